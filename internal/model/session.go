package model

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Session is the process-lifetime container: it owns the running sequence
// counters and knows the on-disk directory everything is written under.
type Session struct {
	ID        string
	Dir       string
	StartedAt time.Time

	frameSeq     atomic.Uint64
	artifactSeq  atomic.Uint64
	inferenceSeq atomic.Uint64
}

// NewSession derives a session id from the given timestamp, formatted the
// way the store's directory layout expects: session_YYYYMMDD_HHMMSS.
func NewSession(now time.Time, outputRoot string) *Session {
	id := now.Format("20060102_150405")
	return &Session{
		ID:        id,
		Dir:       fmt.Sprintf("%s/session_%s", outputRoot, id),
		StartedAt: now,
	}
}

// NextFrameSeq returns the next strictly-increasing frame sequence number.
func (s *Session) NextFrameSeq() uint64 { return s.frameSeq.Add(1) }

// NextArtifactSeq returns the next artifact ordinal, used to build ids.
func (s *Session) NextArtifactSeq() uint64 { return s.artifactSeq.Add(1) }

// NextInferenceSeq returns the next inference ordinal.
func (s *Session) NextInferenceSeq() uint64 { return s.inferenceSeq.Add(1) }

// RelativeMillis returns the elapsed time since session start, in
// milliseconds, for the given wall-clock instant.
func (s *Session) RelativeMillis(t time.Time) int64 {
	return t.Sub(s.StartedAt).Milliseconds()
}
