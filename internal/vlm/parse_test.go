package vlm

import "testing"

func TestParseSceneResponsePlainJSON(t *testing.T) {
	raw := `{"timestamp":"2026-08-06T00:00:00Z","people_count":2,"vehicle_count":0,"summary":"two people walking"}`
	scene, err := parseSceneResponse(raw)
	if err != nil {
		t.Fatalf("parseSceneResponse: %v", err)
	}
	if scene.PeopleCount != 2 {
		t.Errorf("expected people_count 2, got %d", scene.PeopleCount)
	}
	if scene.Summary != "two people walking" {
		t.Errorf("unexpected summary: %q", scene.Summary)
	}
}

func TestParseSceneResponseFencedJSONWithPrelude(t *testing.T) {
	raw := "I see a person in the frame.\n```json\n{\"people_count\":1,\"summary\":\"one person\"}\n```\n"
	scene, err := parseSceneResponse(raw)
	if err != nil {
		t.Fatalf("parseSceneResponse: %v", err)
	}
	if scene.PeopleCount != 1 {
		t.Errorf("expected people_count 1, got %d", scene.PeopleCount)
	}
	if scene.Response != "I see a person in the frame." {
		t.Errorf("expected prelude retained as Response, got %q", scene.Response)
	}
}

func TestParseSceneResponseMissingOptionalFieldsDefault(t *testing.T) {
	raw := `{"summary":"nothing notable"}`
	scene, err := parseSceneResponse(raw)
	if err != nil {
		t.Fatalf("parseSceneResponse: %v", err)
	}
	if scene.PeopleCount != 0 || scene.VehicleCount != 0 {
		t.Errorf("expected zero-value counts by default")
	}
	if scene.People == nil || scene.Vehicles == nil {
		t.Errorf("expected empty (non-nil) lists by default")
	}
	if scene.Response != "" {
		t.Errorf("expected empty response by default, got %q", scene.Response)
	}
}

func TestParseSceneResponseMalformedJSONErrors(t *testing.T) {
	_, err := parseSceneResponse("not json at all")
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestParseMCPIntentExtractsToolCall(t *testing.T) {
	raw := `{"summary":"panning left"}` + "\n" +
		`<use_mcp_tool>{"tool_name":"pan_camera","arguments":{"direction":"left"},"reason":"user asked to look left"}</use_mcp_tool>`

	mcp := parseMCPIntent(raw)
	if mcp == nil {
		t.Fatal("expected an MCP intent to be extracted")
	}
	if mcp.ToolName != "pan_camera" {
		t.Errorf("expected tool_name pan_camera, got %q", mcp.ToolName)
	}
	if mcp.Arguments["direction"] != "left" {
		t.Errorf("expected argument direction=left, got %v", mcp.Arguments["direction"])
	}
}

func TestParseMCPIntentAbsent(t *testing.T) {
	if mcp := parseMCPIntent(`{"summary":"nothing"}`); mcp != nil {
		t.Errorf("expected no MCP intent, got %+v", mcp)
	}
}
