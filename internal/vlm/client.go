// Package vlm implements the VLM Client (component E): an OpenAI-compatible
// chat-completions client for image/video multimodal scene analysis, plus
// the response parser for the structured SceneResult and any embedded MCP
// tool-call intent.
package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/visiona/scenewatch/internal/model"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// Client is a thin OpenAI-compatible chat-completions client.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// New builds a Client against baseURL (a full ".../chat/completions" URL)
// authenticated with apiKey.
func New(baseURL, apiKey, modelName string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   modelName,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MediaKind tells Analyze which multimodal content-part type to build.
type MediaKind string

const (
	MediaImage MediaKind = "image_url"
	MediaVideo MediaKind = "video_url"
)

// Result is what Analyze hands back to the scheduler's worker.
type Result struct {
	RawText string
	Scene   *model.SceneResult
	MCP     *model.MCPResult // intent only; execution is the bridge's job
}

// Analyze encodes media, calls the remote chat-completion endpoint, and
// parses the structured scene JSON and (optionally) an embedded MCP
// tool-call block out of the raw text response.
func (c *Client) Analyze(ctx context.Context, media []byte, mediaKind MediaKind, systemPrompt, userPrompt, question string) (*Result, error) {
	dataURL := encodeDataURL(media, mediaKind)
	userText := userPrompt
	if question != "" {
		userText = fmt.Sprintf("%s\n\nUser question: %s", userPrompt, question)
	}

	mediaPart := map[string]interface{}{
		"type":         string(mediaKind),
		string(mediaKind): mediaURL{URL: dataURL},
	}
	textPart := map[string]interface{}{
		"type": "text",
		"text": userText,
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []map[string]interface{}{mediaPart, textPart}},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal vlm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build vlm request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call vlm api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode vlm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("vlm response contained no choices")
	}

	rawText := parsed.Choices[0].Message.Content

	scene, err := parseSceneResponse(rawText)
	if err != nil {
		return &Result{RawText: rawText}, fmt.Errorf("parse scene response: %w", err)
	}

	mcp := parseMCPIntent(rawText)

	return &Result{RawText: rawText, Scene: scene, MCP: mcp}, nil
}

func encodeDataURL(media []byte, kind MediaKind) string {
	encoded := base64.StdEncoding.EncodeToString(media)
	mime := "image/jpeg"
	if kind == MediaVideo {
		mime = "video/mp4"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, encoded)
}

// --- wire shapes ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type mediaURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	message := strings.TrimSpace(string(body))
	var parsed apiErrorEnvelope
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("vlm api status %d: %s", resp.StatusCode, message)
}
