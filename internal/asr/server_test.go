package asr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/visiona/scenewatch/internal/config"
)

type fakeRegistry struct {
	mu      sync.Mutex
	current string
}

func (f *fakeRegistry) SetQuestion(text string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = text
}

func (f *fakeRegistry) CurrentQuestion(now time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeRegistry) ClearQuestion() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ""
}

func TestPostASRRegistersQuestion(t *testing.T) {
	reg := &fakeRegistry{}
	srv := New(config.ASRConfig{MaxQuestionChars: 500}, reg)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	resp, err := http.Post(httpSrv.URL+"/asr", "application/json", strings.NewReader(`{"question":"how many people?"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if reg.CurrentQuestion(time.Now()) != "how many people?" {
		t.Fatalf("expected question registered, got %q", reg.CurrentQuestion(time.Now()))
	}
}

func TestPostASRRejectsEmptyQuestion(t *testing.T) {
	reg := &fakeRegistry{}
	srv := New(config.ASRConfig{MaxQuestionChars: 500}, reg)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	resp, err := http.Post(httpSrv.URL+"/asr", "application/json", strings.NewReader(`{"question":"   "}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty question, got %d", resp.StatusCode)
	}
}

func TestPostASRRejectsTooLongQuestion(t *testing.T) {
	reg := &fakeRegistry{}
	srv := New(config.ASRConfig{MaxQuestionChars: 10}, reg)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	resp, err := http.Post(httpSrv.URL+"/asr", "application/json", strings.NewReader(`{"question":"this question is far too long"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for too-long question, got %d", resp.StatusCode)
	}
}

func TestQuestionClearEndpoint(t *testing.T) {
	reg := &fakeRegistry{current: "already set"}
	srv := New(config.ASRConfig{MaxQuestionChars: 500}, reg)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	resp, err := http.Post(httpSrv.URL+"/question/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	if reg.CurrentQuestion(time.Now()) != "" {
		t.Fatalf("expected question cleared, got %q", reg.CurrentQuestion(time.Now()))
	}
}

func TestStatsCountsReceivedAndRejected(t *testing.T) {
	reg := &fakeRegistry{}
	srv := New(config.ASRConfig{MaxQuestionChars: 500}, reg)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	http.Post(httpSrv.URL+"/asr", "application/json", strings.NewReader(`{"question":"ok"}`))
	http.Post(httpSrv.URL+"/asr", "application/json", strings.NewReader(`{"question":""}`))

	resp, err := http.Get(httpSrv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Data map[string]uint64 `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Data["received"] != 1 || body.Data["rejected"] != 1 {
		t.Fatalf("expected received=1 rejected=1, got %+v", body.Data)
	}
}
