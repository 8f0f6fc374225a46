// Package mcpbridge implements the MCP Control Bridge (component F): a thin
// HTTP client to an external camera-control inference service. Connection
// and HTTP failures never propagate to the caller — they fold into a
// diagnostic MCPResult{Success: false} instead, matching the rule that the
// bridge never fails the parent inference.
package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/visiona/scenewatch/internal/model"
)

// Client calls a single POST /analyze endpoint on an external MCP service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New builds a Client against baseURL (the service root; /analyze is
// appended) with the given per-call timeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "mcpbridge"),
	}
}

type analyzeRequest struct {
	ImagePath    string `json:"image_path"`
	UserQuestion string `json:"user_question"`
}

type analyzeResponse struct {
	Success    bool                   `json:"success"`
	ToolName   string                 `json:"tool_name"`
	Arguments  map[string]interface{} `json:"arguments"`
	Reason     string                 `json:"reason"`
	Result     string                 `json:"result"`
	AIResponse string                 `json:"ai_response"`
}

// Analyze forwards the media path and active question to the external
// service. It never returns an error: any connection, HTTP, or decode
// failure is folded into an MCPResult with Success=false and a diagnostic
// Result string.
func (c *Client) Analyze(ctx context.Context, imagePath, userQuestion string) *model.MCPResult {
	reqBody, err := json.Marshal(analyzeRequest{ImagePath: imagePath, UserQuestion: userQuestion})
	if err != nil {
		return c.failure(fmt.Sprintf("marshal mcp request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(reqBody))
	if err != nil {
		return c.failure(fmt.Sprintf("build mcp request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("mcp bridge call failed", "error", err)
		return c.failure(fmt.Sprintf("mcp bridge unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		c.logger.Warn("mcp bridge non-2xx", "status", resp.StatusCode)
		return c.failure(fmt.Sprintf("mcp bridge status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return c.failure(fmt.Sprintf("decode mcp response: %v", err))
	}

	return &model.MCPResult{
		Success:    parsed.Success,
		ToolName:   parsed.ToolName,
		Arguments:  parsed.Arguments,
		Reason:     parsed.Reason,
		Result:     parsed.Result,
		AIResponse: parsed.AIResponse,
	}
}

func (c *Client) failure(diagnostic string) *model.MCPResult {
	return &model.MCPResult{Success: false, Result: diagnostic}
}
