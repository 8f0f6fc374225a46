package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/visiona/scenewatch/internal/model"
)

func newTestSession(t *testing.T) *model.Session {
	t.Helper()
	root := t.TempDir()
	s := model.NewSession(time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC), root)
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatalf("mkdir session dir: %v", err)
	}
	return s
}

func artifactDir(t *testing.T, session *model.Session, name string) string {
	t.Helper()
	dir := filepath.Join(session.Dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir artifact dir: %v", err)
	}
	return dir
}

func TestRegisterArtifactThenLatestMedia(t *testing.T) {
	session := newTestSession(t)
	st := New(session, nil, nil)

	a1 := &model.MediaArtifact{ID: "a1", Kind: model.ArtifactImage, CreatedAt: time.Now(), Dir: artifactDir(t, session, "frame_1_details")}
	st.RegisterArtifact(a1)
	time.Sleep(time.Millisecond)
	a2 := &model.MediaArtifact{ID: "a2", Kind: model.ArtifactImage, CreatedAt: time.Now(), Dir: artifactDir(t, session, "frame_2_details")}
	st.RegisterArtifact(a2)

	latest, ok := st.LatestMedia()
	if !ok {
		t.Fatal("expected a latest media artifact")
	}
	if latest.ID != "a2" {
		t.Fatalf("expected a2 as latest, got %s", latest.ID)
	}
}

func TestFinalizeWritesInferenceResultAndUpdatesQueries(t *testing.T) {
	session := newTestSession(t)
	st := New(session, nil, nil)

	dir := artifactDir(t, session, "frame_1_details")
	artifact := model.MediaArtifact{ID: "a1", Kind: model.ArtifactImage, Dir: dir, CreatedAt: time.Now(), FrameSeq: 1, FrameRangeFirst: 1}
	st.RegisterArtifact(&artifact)

	end := time.Now()
	rec := &model.InferenceRecord{
		Media:          artifact,
		Kind:           model.InferenceOK,
		InferenceStart: end.Add(-time.Second),
		InferenceEnd:   &end,
		RawResult:      `{"summary":"empty scene"}`,
		ParsedResult:   &model.SceneResult{Summary: "empty scene"},
	}
	st.Finalize(rec)

	if _, err := os.Stat(filepath.Join(dir, "inference_result.json")); err != nil {
		t.Fatalf("expected inference_result.json to exist: %v", err)
	}

	got, ok := st.LatestInference()
	if !ok {
		t.Fatal("expected a latest inference")
	}
	if got.Media.ID != "a1" {
		t.Fatalf("expected a1, got %s", got.Media.ID)
	}

	if _, ok := st.LatestInferenceWithAI(); ok {
		t.Fatal("expected no analytically-meaningful record for an empty scene")
	}
}

func TestLatestInferenceWithAIPrefersMeaningfulRecord(t *testing.T) {
	session := newTestSession(t)
	st := New(session, nil, nil)

	dirEmpty := artifactDir(t, session, "frame_1_details")
	dirMeaningful := artifactDir(t, session, "frame_2_details")

	now := time.Now()
	emptyRec := &model.InferenceRecord{
		Media:          model.MediaArtifact{ID: "a1", Dir: dirEmpty, CreatedAt: now},
		InferenceEnd:   &now,
		ParsedResult:   &model.SceneResult{},
	}
	st.Finalize(emptyRec)

	later := now.Add(time.Second)
	meaningfulRec := &model.InferenceRecord{
		Media:          model.MediaArtifact{ID: "a2", Dir: dirMeaningful, CreatedAt: later},
		InferenceEnd:   &later,
		ParsedResult:   &model.SceneResult{PeopleCount: 2, Summary: "two people"},
	}
	st.Finalize(meaningfulRec)

	got, ok := st.LatestInferenceWithAI()
	if !ok {
		t.Fatal("expected an analytically-meaningful record")
	}
	if got.Media.ID != "a2" {
		t.Fatalf("expected a2, got %s", got.Media.ID)
	}
}

func TestHistoryIsNewestFirstAndBounded(t *testing.T) {
	session := newTestSession(t)
	st := New(session, nil, nil)

	base := time.Now()
	for i, id := range []string{"a1", "a2", "a3"} {
		dir := artifactDir(t, session, id+"_details")
		ts := base.Add(time.Duration(i) * time.Second)
		st.Finalize(&model.InferenceRecord{
			Media:        model.MediaArtifact{ID: id, Dir: dir, CreatedAt: ts},
			InferenceEnd: &ts,
		})
	}

	hist := st.History(2)
	if len(hist) != 2 {
		t.Fatalf("expected 2 records, got %d", len(hist))
	}
	if hist[0].Media.ID != "a3" || hist[1].Media.ID != "a2" {
		t.Fatalf("expected newest-first order [a3,a2], got [%s,%s]", hist[0].Media.ID, hist[1].Media.ID)
	}
}

func TestColdStartRescanRebuildsIndexFromDisk(t *testing.T) {
	session := newTestSession(t)
	first := New(session, nil, nil)

	dir := artifactDir(t, session, "frame_1_details")
	now := time.Now()
	first.Finalize(&model.InferenceRecord{
		Media:        model.MediaArtifact{ID: "a1", Dir: dir, CreatedAt: now, FrameSeq: 1},
		InferenceEnd: &now,
		ParsedResult: &model.SceneResult{Summary: "restored from disk"},
	})

	// A fresh Store over the same session directory, as after a restart.
	second := New(session, nil, nil)
	rec, ok := second.LatestInference()
	if !ok {
		t.Fatal("expected the cold-start rescan to recover the finalized record")
	}
	if rec.ParsedResult == nil || rec.ParsedResult.Summary != "restored from disk" {
		t.Fatalf("expected the rescanned record to carry its parsed summary, got %+v", rec.ParsedResult)
	}
}

func TestOpenFindsMediaFileByBaseName(t *testing.T) {
	session := newTestSession(t)
	st := New(session, nil, nil)

	dir := artifactDir(t, session, "frame_1_details")
	imgPath := filepath.Join(dir, "abc.jpg")
	if err := os.WriteFile(imgPath, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write test image: %v", err)
	}
	st.RegisterArtifact(&model.MediaArtifact{ID: "a1", Dir: dir, ImagePath: imgPath, CreatedAt: time.Now()})

	f, err := st.Open("abc.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data := make([]byte, 32)
	n, _ := f.Read(data)
	if string(data[:n]) != "jpeg-bytes" {
		t.Fatalf("unexpected file contents: %q", string(data[:n]))
	}
}

func TestOpenReturnsErrForUnknownFile(t *testing.T) {
	session := newTestSession(t)
	st := New(session, nil, nil)
	if _, err := st.Open("nope.jpg"); err != ErrMediaNotFound {
		t.Fatalf("expected ErrMediaNotFound, got %v", err)
	}
}

func TestCheckpointWritesExperimentLogSortedByFrameRange(t *testing.T) {
	session := newTestSession(t)
	st := New(session, map[string]string{"mode": "test"}, nil)

	now := time.Now()
	for _, seq := range []uint64{5, 1, 3} {
		id := fmt.Sprintf("a%d", seq)
		dir := artifactDir(t, session, id+"_details")
		st.Finalize(&model.InferenceRecord{
			Media:        model.MediaArtifact{ID: id, Dir: dir, CreatedAt: now, FrameRangeFirst: seq},
			InferenceEnd: &now,
		})
	}

	if err := st.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if _, err := os.Stat(filepath.Join(session.Dir, "experiment_log.json")); err != nil {
		t.Fatalf("expected experiment_log.json to exist: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(session.Dir, "experiment_log.json"))
	if err != nil {
		t.Fatalf("read experiment_log.json: %v", err)
	}
	var doc ExperimentLogDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal experiment_log.json: %v", err)
	}
	var got []uint64
	for _, row := range doc.InferenceLog {
		got = append(got, row.Media.FrameRangeFirst)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 3 || got[2] != 5 {
		t.Fatalf("expected inference_log sorted by first frame [1 3 5], got %v", got)
	}
}
