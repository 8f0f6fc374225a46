// Package store implements the Result Store (component G): the
// session-directory layout, atomic writes of inference/mcp results, and the
// latest-by-predicate query surface the delivery layer and TTS worker read
// from.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/visiona/scenewatch/internal/atomicfile"
	"github.com/visiona/scenewatch/internal/model"
)

// entry pairs a MediaArtifact with its InferenceRecord (nil until the
// scheduler finalizes one).
type entry struct {
	artifact *model.MediaArtifact
	record   *model.InferenceRecord
}

// Store owns the session directory tree. Per-artifact writes are serialized
// by a per-directory mutex, and the session-log rewrite by the session
// directory's mutex from the same registry; the in-memory index is guarded
// by one global mutex, matching the reader/distributor split of ownership
// elsewhere in this codebase.
type Store struct {
	session *model.Session
	logger  *slog.Logger

	config interface{} // processor_config snapshot embedded in experiment_log.json

	mu      sync.RWMutex
	entries []*entry // append order == creation order
	scanned bool      // cold-start directory rescan has run

	dirMu    sync.Mutex
	dirLocks map[string]*sync.Mutex
}

// New constructs a Store rooted at session.Dir. configSnapshot is embedded
// verbatim as experiment_log.json's processor_config field.
func New(session *model.Session, configSnapshot interface{}, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		session:  session,
		logger:   logger.With("component", "store"),
		config:   configSnapshot,
		dirLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(dir string) *sync.Mutex {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	m, ok := s.dirLocks[dir]
	if !ok {
		m = &sync.Mutex{}
		s.dirLocks[dir] = m
	}
	return m
}

// RegisterArtifact records a newly created MediaArtifact so it is visible to
// latest_media() even before its inference completes.
func (s *Store) RegisterArtifact(a *model.MediaArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{artifact: a})
}

// Finalize implements scheduler.Sink: it writes inference_result.json (and
// mcp_result.json if an MCP call ran) to the artifact's directory via
// write-to-temp-then-rename, then updates the in-memory index.
func (s *Store) Finalize(rec *model.InferenceRecord) {
	dir := rec.Media.Dir
	if dir == "" {
		s.logger.Warn("finalize called with no artifact directory", "media_id", rec.Media.ID)
		return
	}

	unlock := s.lockFor(dir)
	unlock.Lock()
	defer unlock.Unlock()

	if err := atomicfile.WriteJSON(filepath.Join(dir, "inference_result.json"), toInferenceResultDoc(rec)); err != nil {
		s.logger.Warn("write inference_result.json failed", "dir", dir, "error", err)
	}
	if rec.MCP != nil {
		if err := atomicfile.WriteJSON(filepath.Join(dir, "mcp_result.json"), rec.MCP); err != nil {
			s.logger.Warn("write mcp_result.json failed", "dir", dir, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.artifact.ID == rec.Media.ID {
			e.record = rec
			return
		}
	}
	s.entries = append(s.entries, &entry{artifact: &rec.Media, record: rec})
}

// InferenceResultDoc mirrors §6's inference_result.json shape.
type InferenceResultDoc struct {
	Media               model.MediaArtifact `json:"media"`
	InferenceStartTime  time.Time           `json:"inference_start_time"`
	InferenceEndTime    *time.Time          `json:"inference_end_time,omitempty"`
	InferenceDurationMs int64               `json:"inference_duration_ms"`
	RawResult           string              `json:"raw_result,omitempty"`
	ParsedResult        *model.SceneResult  `json:"parsed_result,omitempty"`
	UserQuestion        string              `json:"user_question,omitempty"`
	Response            string              `json:"response,omitempty"`
	Kind                model.InferenceKind `json:"kind"`
	Error               string              `json:"error,omitempty"`
}

type inferenceResultDoc = InferenceResultDoc

func toInferenceResultDoc(rec *model.InferenceRecord) InferenceResultDoc {
	doc := InferenceResultDoc{
		Media:              rec.Media,
		InferenceStartTime: rec.InferenceStart,
		InferenceEndTime:   rec.InferenceEnd,
		RawResult:          rec.RawResult,
		ParsedResult:       rec.ParsedResult,
		UserQuestion:       rec.UserQuestion,
		Kind:               rec.Kind,
		Error:              rec.Error,
	}
	doc.InferenceDurationMs = rec.Duration().Milliseconds()
	if rec.ParsedResult != nil {
		doc.Response = rec.ParsedResult.Response
	}
	return doc
}

// ExperimentLogDoc mirrors §6's experiment_log.json shape.
type ExperimentLogDoc struct {
	ProcessorConfig interface{}           `json:"processor_config"`
	Statistics      ExperimentStatsDoc    `json:"statistics"`
	InferenceLog    []InferenceResultDoc  `json:"inference_log"`
}

// ExperimentStatsDoc is the "statistics" field of experiment_log.json.
type ExperimentStatsDoc struct {
	TotalArtifacts  int       `json:"total_artifacts"`
	TotalInferences int       `json:"total_inferences"`
	StartTime       time.Time `json:"start_time"`
	StartTimestamp  string    `json:"start_timestamp"`
	TotalDuration   float64   `json:"total_duration_s"`
}

// ExperimentLog builds the current experiment-log document from the
// in-memory index, without touching disk. Used directly by the delivery
// layer's GET /api/experiment-log.
func (s *Store) ExperimentLog() ExperimentLogDoc {
	s.ensureScanned()
	s.mu.RLock()
	entries := make([]*entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	logRows := make([]InferenceResultDoc, 0, len(entries))
	for _, e := range entries {
		if e.record == nil {
			continue
		}
		logRows = append(logRows, toInferenceResultDoc(e.record))
	}
	sort.Slice(logRows, func(i, j int) bool {
		fi, _ := logRows[i].Media.FrameRange()
		fj, _ := logRows[j].Media.FrameRange()
		return fi < fj
	})

	return ExperimentLogDoc{
		ProcessorConfig: s.config,
		Statistics: ExperimentStatsDoc{
			TotalArtifacts:  len(entries),
			TotalInferences: len(logRows),
			StartTime:       s.session.StartedAt,
			StartTimestamp:  s.session.StartedAt.Format(time.RFC3339Nano),
			TotalDuration:   time.Since(s.session.StartedAt).Seconds(),
		},
		InferenceLog: logRows,
	}
}

// Checkpoint atomically rewrites experiment_log.json from the current
// in-memory index. It is safe to call periodically or once at session end.
func (s *Store) Checkpoint() error {
	logLock := s.lockFor(s.session.Dir)
	logLock.Lock()
	defer logLock.Unlock()

	doc := s.ExperimentLog()

	path := filepath.Join(s.session.Dir, "experiment_log.json")
	if err := os.MkdirAll(s.session.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir session dir: %w", err)
	}
	if err := atomicfile.WriteJSON(path, doc); err != nil {
		return fmt.Errorf("write experiment_log.json: %w", err)
	}
	return nil
}

// Close performs the final checkpoint at session end.
func (s *Store) Close() error {
	return s.Checkpoint()
}
