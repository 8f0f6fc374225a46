// Package scheduler implements the Inference Scheduler (component D): the
// sync-or-async dispatch discipline, the single pending-latest slot, the
// user-question registry, and the MCP-trigger decision.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visiona/scenewatch/internal/config"
	"github.com/visiona/scenewatch/internal/model"
)

// Dispatch is one unit of work handed to a worker goroutine: the artifact
// plus any user question bound to it.
type Dispatch struct {
	Artifact *model.MediaArtifact
	Question string
}

// Worker performs the actual remote call for one Dispatch and returns the
// finished record. It must not hold the scheduler mutex.
type Worker func(ctx context.Context, d Dispatch) *model.InferenceRecord

// Sink receives finished InferenceRecords for storage/delivery.
type Sink interface {
	Finalize(rec *model.InferenceRecord)
}

// Scheduler is single-threaded in its decision loop; dispatched work runs
// on worker goroutines. All mutation of activeCount, currentInFlight and
// pendingLatest is serialized by mu, and mu is never held across I/O.
type Scheduler struct {
	cfg    config.SchedulerConfig
	worker Worker
	sink   Sink
	logger *slog.Logger

	questions *questionRegistry

	mu            sync.Mutex
	activeCount   int
	inFlight      bool
	pendingLatest *model.MediaArtifact

	skippedInSync uint64

	sentryEnabled atomic.Bool

	wg sync.WaitGroup
}

// New builds a Scheduler.
func New(cfg config.SchedulerConfig, worker Worker, sink Sink, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sched := &Scheduler{
		cfg:       cfg,
		worker:    worker,
		sink:      sink,
		logger:    logger.With("component", "scheduler"),
		questions: newQuestionRegistry(cfg.QuestionExpiry),
	}
	sched.sentryEnabled.Store(cfg.SentryModeEnabled)
	return sched
}

// SentryEnabled reports whether sentry mode is currently active. It starts
// from the configured default and can be flipped at runtime via
// SetSentryEnabled (the delivery surface's sentry/toggle endpoint).
func (s *Scheduler) SentryEnabled() bool {
	return s.sentryEnabled.Load()
}

// SetSentryEnabled flips sentry mode at runtime.
func (s *Scheduler) SetSentryEnabled(enabled bool) {
	s.sentryEnabled.Store(enabled)
}

// ShouldInvokeMCP implements the resolved open question from spec.md §9: the
// MCP Control Bridge runs when the parsed response carries an intent block,
// or unconditionally after every response when either mcp_on_response or
// sentry mode is enabled.
func (s *Scheduler) ShouldInvokeMCP(hasParsedIntent bool) bool {
	return hasParsedIntent || s.cfg.MCPOnResponse || s.SentryEnabled()
}

// SetQuestion registers a newly arrived user question (from the ASR
// intake). Safe for concurrent callers.
func (s *Scheduler) SetQuestion(text string, now time.Time) {
	s.questions.Set(text, now)
}

// CurrentQuestion returns the active question text, or "" if none/expired.
func (s *Scheduler) CurrentQuestion(now time.Time) string {
	return s.questions.Current(now)
}

// ClearQuestion clears the active question unconditionally.
func (s *Scheduler) ClearQuestion() {
	s.questions.Clear()
}

// SkippedInSyncCount reports how many artifacts were superseded by a fresher
// pending_latest while sync mode was busy.
func (s *Scheduler) SkippedInSyncCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skippedInSync
}

// Submit runs the dispatch algorithm from spec §4.D for one artifact,
// under the scheduler mutex.
func (s *Scheduler) Submit(ctx context.Context, artifact *model.MediaArtifact) {
	s.mu.Lock()
	s.submitLocked(ctx, artifact)
}

// submitLocked runs the dispatch algorithm with mu already held; every path
// releases mu before returning.
func (s *Scheduler) submitLocked(ctx context.Context, artifact *model.MediaArtifact) {
	now := time.Now()

	// Step 1: an active user question preempts the sync gate, but only if
	// nothing is currently in flight.
	if !s.inFlight {
		if q, ok := s.questions.Take(now); ok {
			s.beginLocked()
			s.mu.Unlock()
			s.runDispatch(ctx, Dispatch{Artifact: artifact, Question: q})
			return
		}
	}

	// Step 2: async mode dispatches immediately up to max_concurrent.
	if s.cfg.Mode == "async" && s.activeCount < s.cfg.MaxConcurrent {
		s.beginLocked()
		s.mu.Unlock()
		s.runDispatch(ctx, Dispatch{Artifact: artifact})
		return
	}

	// Step 3: sync mode with nothing in flight.
	if s.cfg.Mode == "sync" && !s.inFlight {
		if s.pendingLatest != nil {
			toDispatch := s.pendingLatest
			s.pendingLatest = artifact
			s.beginLocked()
			s.mu.Unlock()
			s.runDispatch(ctx, Dispatch{Artifact: toDispatch})
			return
		}
		s.beginLocked()
		s.mu.Unlock()
		s.runDispatch(ctx, Dispatch{Artifact: artifact})
		return
	}

	// Step 4: busy (in flight or at cap) — replace pending_latest, drop
	// whatever was there before. The counter tracks artifacts that were
	// actually discarded, not every replace: setting an empty slot for the
	// first time is not itself a skip.
	if s.pendingLatest != nil {
		s.skippedInSync++
	}
	s.pendingLatest = artifact
	s.mu.Unlock()
}

func (s *Scheduler) beginLocked() {
	s.activeCount++
	s.inFlight = true
}

// runDispatch launches the worker on its own goroutine; mu is not held
// across the call.
func (s *Scheduler) runDispatch(ctx context.Context, d Dispatch) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()

		rec := s.worker(callCtx, d)
		if s.sink != nil && rec != nil {
			s.sink.Finalize(rec)
		}
		s.onComplete(ctx)
	}()
}

// onComplete is the completion handler from spec §4.D: decrement
// active_count, and if pending_latest is non-empty, immediately re-enter
// the algorithm with the freshest known artifact, under the same mutex
// that guards enqueue — closing the completion-time race the spec calls
// out explicitly.
func (s *Scheduler) onComplete(ctx context.Context) {
	s.mu.Lock()
	s.activeCount--
	if s.activeCount <= 0 {
		s.activeCount = 0
		s.inFlight = false
	}

	pending := s.pendingLatest
	s.pendingLatest = nil
	if pending != nil {
		s.submitLocked(ctx, pending)
		return
	}
	s.mu.Unlock()
}

// Wait blocks until every in-flight dispatch has finished. Used during
// shutdown after new submissions have stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
