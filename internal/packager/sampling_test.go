package packager

import (
	"testing"

	"github.com/visiona/scenewatch/internal/model"
)

func frameAt(seq uint64, ms int64) *model.Frame {
	return &model.Frame{Seq: seq, RelativeMillis: ms}
}

func TestSampleFramesEvenlySpacedGrid(t *testing.T) {
	batch := []*model.Frame{
		frameAt(1, 0), frameAt(2, 1000), frameAt(3, 2000), frameAt(4, 3000),
	}
	got := sampleFrames(batch, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 sampled frames, got %d", len(got))
	}
	// Grid targets: 0, 1500, 3000 -> nearest are seq 1 (0ms), seq 2 or 3 (tie broken earlier -> 1000 vs 2000, target 1500 is equidistant -> earlier wins), seq 4 (3000ms)
	if got[0].Seq != 1 {
		t.Errorf("expected first sample seq 1, got %d", got[0].Seq)
	}
	if got[2].Seq != 4 {
		t.Errorf("expected last sample seq 4, got %d", got[2].Seq)
	}
}

func TestSampleFramesSingleTargetPicksFirstFrame(t *testing.T) {
	batch := []*model.Frame{frameAt(1, 0), frameAt(2, 2000)}
	got := sampleFrames(batch, 1)
	if len(got) != 1 || got[0].Seq != 1 {
		t.Fatalf("M=1 should pick the first frame in the batch, got %+v", got)
	}
}

func TestSampleFramesSingleFrameBatch(t *testing.T) {
	batch := []*model.Frame{frameAt(1, 0)}
	got := sampleFrames(batch, 3)
	if len(got) != 1 {
		t.Fatalf("cannot sample more frames than exist, got %d", len(got))
	}
}

func TestFitDimensionsPreservesAspectRatioWithoutUpscaling(t *testing.T) {
	w, h := fitDimensions(1920, 1080, 640, 360)
	if w != 640 || h != 360 {
		t.Errorf("expected exact fit 640x360, got %dx%d", w, h)
	}

	w, h = fitDimensions(320, 240, 640, 360)
	if w != 320 || h != 240 {
		t.Errorf("expected no upscaling for a smaller source, got %dx%d", w, h)
	}
}
