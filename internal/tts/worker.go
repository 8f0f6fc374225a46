// Package tts implements the TTS fan-out worker (component I, TTS half): a
// polling worker that watches the Result Store for newly finalized
// InferenceRecords and forwards each summary to an external speech-out
// service.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/visiona/scenewatch/internal/config"
	"github.com/visiona/scenewatch/internal/model"
)

// HistorySource is the subset of *store.Store the worker needs.
type HistorySource interface {
	History(limit int) []*model.InferenceRecord
}

// pollBatchSize bounds how many recent records are scanned per tick; the
// dedup set keeps already-spoken records from being resent even once they
// age out of this window.
const pollBatchSize = 50

// Worker polls a HistorySource on a fixed cadence and forwards new,
// non-empty summaries to an external POST {host}{endpoint} endpoint.
type Worker struct {
	cfg    config.TTSConfig
	src    HistorySource
	http   *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// New builds a Worker.
func New(cfg config.TTSConfig, src HistorySource, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		src:    src,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With("component", "tts"),
		seen:   make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func dedupKey(rec *model.InferenceRecord) string {
	end := ""
	if rec.InferenceEnd != nil {
		end = rec.InferenceEnd.Format(time.RFC3339Nano)
	}
	return rec.Media.Dir + "|" + end
}

// pollOnce forwards any not-yet-spoken, non-empty summaries in oldest-first
// order so a speech queue plays them in the order they were produced.
func (w *Worker) pollOnce(ctx context.Context) {
	recent := w.src.History(pollBatchSize)

	fresh := make([]*model.InferenceRecord, 0, len(recent))
	w.mu.Lock()
	for _, rec := range recent {
		key := dedupKey(rec)
		if _, ok := w.seen[key]; ok {
			continue
		}
		w.seen[key] = struct{}{}
		fresh = append(fresh, rec)
	}
	w.mu.Unlock()

	for i := len(fresh) - 1; i >= 0; i-- {
		rec := fresh[i]
		if rec.ParsedResult == nil || rec.ParsedResult.Summary == "" {
			continue
		}
		if err := w.sendWithRetry(ctx, rec.ParsedResult.Summary); err != nil {
			w.logger.Warn("tts forward failed after retries", "error", err)
		}
	}
}

type speakRequest struct {
	Text string `json:"text"`
}

func (w *Worker) sendWithRetry(ctx context.Context, text string) error {
	maxRetries := w.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		if err := w.send(ctx, text); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (w *Worker) send(ctx context.Context, text string) error {
	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Host+w.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("call tts endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tts endpoint status %d", resp.StatusCode)
	}
	return nil
}
