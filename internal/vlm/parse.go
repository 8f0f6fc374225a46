package vlm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/visiona/scenewatch/internal/model"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// parseSceneResponse implements spec §4.E/§9's response parsing: strip any
// fenced json block delimiters; if a non-JSON prelude exists alongside a
// fenced block, the prelude is retained as SceneResult.Response prose.
// Parsing is total — it never errors out of the component on a partial
// parse, only on genuinely malformed JSON.
func parseSceneResponse(raw string) (*model.SceneResult, error) {
	payload := raw
	var prelude string

	if loc := fencedJSONPattern.FindStringSubmatchIndex(raw); loc != nil {
		prelude = strings.TrimSpace(raw[:loc[0]])
		payload = raw[loc[2]:loc[3]]
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("empty response payload")
	}

	var scene model.SceneResult
	if err := json.Unmarshal([]byte(payload), &scene); err != nil {
		return nil, fmt.Errorf("unmarshal scene json: %w", err)
	}

	if scene.Response == "" && prelude != "" {
		scene.Response = prelude
	}
	if scene.People == nil {
		scene.People = []model.Person{}
	}
	if scene.Vehicles == nil {
		scene.Vehicles = []model.Vehicle{}
	}

	return &scene, nil
}

var mcpToolPattern = regexp.MustCompile(`(?s)<use_mcp_tool>(.*?)</use_mcp_tool>`)

type mcpToolBlock struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Reason    string                 `json:"reason"`
}

// parseMCPIntent searches the full raw text for a <use_mcp_tool> block. If
// present it returns an MCPResult skeleton describing intent only — actual
// execution is the Control Bridge's job.
func parseMCPIntent(raw string) *model.MCPResult {
	loc := mcpToolPattern.FindStringSubmatch(raw)
	if loc == nil {
		return nil
	}

	var block mcpToolBlock
	if err := json.Unmarshal([]byte(strings.TrimSpace(loc[1])), &block); err != nil {
		return nil
	}

	return &model.MCPResult{
		ToolName:  block.ToolName,
		Arguments: block.Arguments,
		Reason:    block.Reason,
	}
}
