package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visiona/scenewatch/internal/config"
	"github.com/visiona/scenewatch/internal/model"
)

type fakeHistory struct {
	mu   sync.Mutex
	recs []*model.InferenceRecord
}

func (f *fakeHistory) History(limit int) []*model.InferenceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.InferenceRecord, len(f.recs))
	copy(out, f.recs)
	return out
}

func rec(dir, summary string, end time.Time) *model.InferenceRecord {
	return &model.InferenceRecord{
		Media:        model.MediaArtifact{Dir: dir},
		InferenceEnd: &end,
		ParsedResult: &model.SceneResult{Summary: summary},
	}
}

func TestPollOnceForwardsFreshSummaries(t *testing.T) {
	var received []string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		mu.Lock()
		received = append(received, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	now := time.Now()
	hist := &fakeHistory{recs: []*model.InferenceRecord{
		rec("/session/a1", "a person walked by", now),
	}}

	worker := New(config.TTSConfig{Host: srv.URL, Endpoint: "/speak", RequestTimeout: time.Second}, hist, nil)
	worker.pollOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || !strings.Contains(received[0], "a person walked by") {
		t.Fatalf("expected one forwarded summary, got %v", received)
	}
}

func TestPollOnceDeduplicatesByDirAndEndTimestamp(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	now := time.Now()
	hist := &fakeHistory{recs: []*model.InferenceRecord{
		rec("/session/a1", "same event", now),
	}}

	worker := New(config.TTSConfig{Host: srv.URL, Endpoint: "/speak", RequestTimeout: time.Second}, hist, nil)
	worker.pollOnce(context.Background())
	worker.pollOnce(context.Background())

	if count.Load() != 1 {
		t.Fatalf("expected exactly one forward across two polls of the same record, got %d", count.Load())
	}
}

func TestPollOnceSkipsEmptySummaries(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	now := time.Now()
	hist := &fakeHistory{recs: []*model.InferenceRecord{
		rec("/session/a1", "", now),
	}}

	worker := New(config.TTSConfig{Host: srv.URL, Endpoint: "/speak", RequestTimeout: time.Second}, hist, nil)
	worker.pollOnce(context.Background())

	if count.Load() != 0 {
		t.Fatalf("expected no forward for an empty summary, got %d calls", count.Load())
	}
}

func TestSendWithRetryRetriesOnFailure(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	worker := New(config.TTSConfig{Host: srv.URL, Endpoint: "/speak", RequestTimeout: time.Second, MaxRetries: 3}, &fakeHistory{}, nil)
	if err := worker.sendWithRetry(context.Background(), "hello"); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}
