package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/visiona/scenewatch/internal/config"
	"github.com/visiona/scenewatch/internal/distributor"
	"github.com/visiona/scenewatch/internal/model"
	"github.com/visiona/scenewatch/internal/reader"
	"github.com/visiona/scenewatch/internal/scheduler"
	"github.com/visiona/scenewatch/internal/store"
)

func newTestServer(t *testing.T) (*Server, *distributor.Distributor, *store.Store) {
	t.Helper()
	dist := distributor.New()
	session := model.NewSession(time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC), t.TempDir())
	if err := os.MkdirAll(session.Dir, 0o755); err != nil {
		t.Fatalf("mkdir session dir: %v", err)
	}
	st := store.New(session, nil, nil)
	rdr := reader.New(reader.Config{Endpoint: "127.0.0.1:0"}, session, func(*model.Frame) {}, nil)
	sched := scheduler.New(config.SchedulerConfig{Mode: "sync", MaxConcurrent: 1, CallTimeout: time.Second}, func(context.Context, scheduler.Dispatch) *model.InferenceRecord { return nil }, st, nil)

	srv := New(config.DeliveryConfig{SendQueueSize: 8}, dist, rdr, st, sched, nil)
	return srv, dist, st
}

func TestLatestInferenceWithAIEndpointReturnsMeaningfulRecord(t *testing.T) {
	srv, _, st := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	dir := t.TempDir()
	now := time.Now()
	st.Finalize(&model.InferenceRecord{
		Media:        model.MediaArtifact{ID: "a1", Dir: dir, CreatedAt: now},
		InferenceEnd: &now,
		ParsedResult: &model.SceneResult{PeopleCount: 1, Summary: "a person"},
	})

	resp, err := http.Get(httpSrv.URL + "/api/latest-inference-with-ai")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if env.Data == nil {
		t.Fatal("expected non-nil latest-inference-with-ai data")
	}
}

func TestMediaEndpointServesArtifactBytes(t *testing.T) {
	srv, _, st := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	dir := t.TempDir()
	imgPath := dir + "/pic.jpg"
	if err := os.WriteFile(imgPath, []byte("jpeg-bytes-here"), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	st.RegisterArtifact(&model.MediaArtifact{ID: "a1", Dir: dir, ImagePath: imgPath, CreatedAt: time.Now()})

	resp, err := http.Get(httpSrv.URL + "/api/media/pic.jpg")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "jpeg-bytes-here") {
		t.Fatalf("expected media bytes in response, got %q", string(body))
	}
}

func TestSentryToggleFlipsState(t *testing.T) {
	srv, _, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	statusResp, _ := http.Get(httpSrv.URL + "/api/sentry/status")
	var before envelope
	json.NewDecoder(statusResp.Body).Decode(&before)
	statusResp.Body.Close()

	toggleResp, err := http.Post(httpSrv.URL+"/api/sentry/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var after envelope
	json.NewDecoder(toggleResp.Body).Decode(&after)
	toggleResp.Body.Close()

	beforeMap := before.Data.(map[string]interface{})
	afterMap := after.Data.(map[string]interface{})
	if beforeMap["sentry_mode_enabled"] == afterMap["sentry_mode_enabled"] {
		t.Fatalf("expected toggle to flip sentry_mode_enabled, got before=%v after=%v", beforeMap, afterMap)
	}
}

func TestWebSocketStartStreamGatesVideoFrameForwarding(t *testing.T) {
	srv, dist, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	wsConn, _, err := gws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer wsConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.RunFrameForwarder(ctx)

	if err := wsConn.WriteJSON(map[string]string{"type": "start_stream"}); err != nil {
		t.Fatalf("write start_stream: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the readPump register the flag

	dist.Publish(&model.Frame{Seq: 1, Timestamp: time.Now(), Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}})

	wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := wsConn.ReadJSON(&msg); err != nil {
		t.Fatalf("expected a video_frame push, got error: %v", err)
	}
	if msg.Type != "video_frame" {
		t.Fatalf("expected video_frame message, got %q", msg.Type)
	}
}
