package mcpbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnalyzeSuccessRoundTrip(t *testing.T) {
	var gotBody analyzeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("expected path /analyze, got %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(analyzeResponse{
			Success:  true,
			ToolName: "pan_camera",
			Arguments: map[string]interface{}{
				"direction": "left",
			},
			Reason: "user requested",
			Result: "camera panned",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	mcp := c.Analyze(context.Background(), "/session/frame_1/img.jpg", "look left")

	if !mcp.Success {
		t.Fatalf("expected success, got %+v", mcp)
	}
	if mcp.ToolName != "pan_camera" {
		t.Errorf("expected tool_name pan_camera, got %q", mcp.ToolName)
	}
	if gotBody.ImagePath != "/session/frame_1/img.jpg" || gotBody.UserQuestion != "look left" {
		t.Errorf("unexpected request body: %+v", gotBody)
	}
}

func TestAnalyzeConnectionErrorFoldsIntoFailure(t *testing.T) {
	c := New("http://127.0.0.1:1", 50*time.Millisecond, nil)
	mcp := c.Analyze(context.Background(), "/x.jpg", "")

	if mcp == nil {
		t.Fatal("expected a non-nil MCPResult even on connection failure")
	}
	if mcp.Success {
		t.Fatalf("expected Success=false on connection failure, got %+v", mcp)
	}
	if mcp.Result == "" {
		t.Errorf("expected a diagnostic message in Result")
	}
}

func TestAnalyzeNonOKStatusFoldsIntoFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	mcp := c.Analyze(context.Background(), "/x.jpg", "")

	if mcp.Success {
		t.Fatalf("expected Success=false on 500 status, got %+v", mcp)
	}
}
