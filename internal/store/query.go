package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/visiona/scenewatch/internal/model"
)

// ensureScanned lazily rebuilds the in-memory index from the on-disk
// session directory the first time a query runs against a cold Store (one
// that never saw RegisterArtifact/Finalize calls in this process, e.g.
// after a restart pointed at an existing session directory).
func (s *Store) ensureScanned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanned {
		return
	}
	s.scanned = true
	if len(s.entries) > 0 {
		return
	}

	dirEntries, err := os.ReadDir(s.session.Dir)
	if err != nil {
		return
	}
	for _, de := range dirEntries {
		if !de.IsDir() || !strings.HasSuffix(de.Name(), "_details") {
			continue
		}
		artifactDir := filepath.Join(s.session.Dir, de.Name())
		rec, ok := loadRecordFromDir(artifactDir)
		if !ok {
			continue
		}
		s.entries = append(s.entries, &entry{artifact: &rec.Media, record: rec})
	}
}

func loadRecordFromDir(dir string) (*model.InferenceRecord, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "inference_result.json"))
	if err != nil {
		return nil, false
	}
	var doc inferenceResultDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	doc.Media.Dir = dir

	var mcp *model.MCPResult
	if mcpData, err := os.ReadFile(filepath.Join(dir, "mcp_result.json")); err == nil {
		var m model.MCPResult
		if json.Unmarshal(mcpData, &m) == nil {
			mcp = &m
		}
	}

	return &model.InferenceRecord{
		Media:          doc.Media,
		Kind:           doc.Kind,
		InferenceStart: doc.InferenceStartTime,
		InferenceEnd:   doc.InferenceEndTime,
		RawResult:      doc.RawResult,
		ParsedResult:   doc.ParsedResult,
		MCP:            mcp,
		UserQuestion:   doc.UserQuestion,
		Error:          doc.Error,
	}, true
}

// LatestMedia returns the most recently created artifact, tie-broken by id.
func (s *Store) LatestMedia() (*model.MediaArtifact, bool) {
	s.ensureScanned()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.MediaArtifact
	for _, e := range s.entries {
		if latest == nil || isNewerArtifact(e.artifact, latest) {
			latest = e.artifact
		}
	}
	if latest == nil {
		return nil, false
	}
	return latest, true
}

func isNewerArtifact(a, b *model.MediaArtifact) bool {
	if a.CreatedAt.After(b.CreatedAt) {
		return true
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return false
	}
	return a.ID > b.ID
}

// LatestInference returns the latest artifact that has a finalized record.
func (s *Store) LatestInference() (*model.InferenceRecord, bool) {
	return s.latestMatching(func(*model.InferenceRecord) bool { return true })
}

// LatestInferenceWithAI returns the latest record satisfying the inclusive
// "analytically meaningful" predicate.
func (s *Store) LatestInferenceWithAI() (*model.InferenceRecord, bool) {
	return s.latestMatching(func(r *model.InferenceRecord) bool { return r.AnalyticallyMeaningful() })
}

func (s *Store) latestMatching(pred func(*model.InferenceRecord) bool) (*model.InferenceRecord, bool) {
	s.ensureScanned()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.InferenceRecord
	for _, e := range s.entries {
		if e.record == nil || !pred(e.record) {
			continue
		}
		if latest == nil || isNewerArtifact(&e.record.Media, &latest.Media) {
			latest = e.record
		}
	}
	if latest == nil {
		return nil, false
	}
	return latest, true
}

// History returns up to limit finalized records, newest-first. limit<=0
// means unbounded.
func (s *Store) History(limit int) []*model.InferenceRecord {
	s.ensureScanned()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.InferenceRecord, 0, len(s.entries))
	for _, e := range s.entries {
		if e.record != nil {
			out = append(out, e.record)
		}
	}
	// newest first, by artifact recency.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if isNewerArtifact(&out[j].Media, &out[i].Media) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MediaHistory returns up to limit registered artifacts, newest-first.
func (s *Store) MediaHistory(limit int) []*model.MediaArtifact {
	s.ensureScanned()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.MediaArtifact, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.artifact)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if isNewerArtifact(out[j], out[i]) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// InferenceCount returns the number of finalized records seen so far.
func (s *Store) InferenceCount() int {
	s.ensureScanned()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.record != nil {
			n++
		}
	}
	return n
}

// Clear drops the in-memory index (used by DELETE /api/history). It does
// not touch on-disk artifacts already written.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.scanned = true
}

// ErrMediaNotFound is returned by Open when no known artifact directory
// contains the requested filename.
var ErrMediaNotFound = fmt.Errorf("media file not found in session")

// Open finds filename among every known artifact directory and opens it for
// a byte-ranged read; the caller is responsible for closing it. Filenames
// are matched by base name only, since artifact ids are globally unique.
func (s *Store) Open(filename string) (*os.File, error) {
	s.ensureScanned()
	s.mu.RLock()
	dirs := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if e.artifact.Dir != "" {
			dirs = append(dirs, e.artifact.Dir)
		}
	}
	s.mu.RUnlock()

	for _, dir := range dirs {
		candidate := filepath.Join(dir, filepath.Base(filename))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return os.Open(candidate)
		}
	}

	// Fall back to a direct directory walk in case the in-memory index is
	// stale relative to the filesystem.
	var found string
	filepath.WalkDir(s.session.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" || d.IsDir() {
			return nil
		}
		if d.Name() == filepath.Base(filename) {
			found = path
		}
		return nil
	})
	if found == "" {
		return nil, ErrMediaNotFound
	}
	return os.Open(found)
}
