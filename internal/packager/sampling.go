package packager

import "github.com/visiona/scenewatch/internal/model"

// sampleFrames implements the nearest-timestamp selection over an evenly
// spaced grid described in spec §4.C: given an ordered batch with relative
// timestamps t0..tn and a target count M, pick for i in 0..M-1 the frame
// whose timestamp is closest to t0 + i*(tn-t0)/(M-1). Ties break toward the
// earlier frame. M=1 picks the first frame in the batch.
func sampleFrames(batch []*model.Frame, m int) []*model.Frame {
	if len(batch) == 0 || m <= 0 {
		return nil
	}
	if m == 1 {
		return []*model.Frame{batch[0]}
	}
	if m >= len(batch) {
		out := make([]*model.Frame, len(batch))
		copy(out, batch)
		return out
	}

	t0 := batch[0].RelativeMillis
	tn := batch[len(batch)-1].RelativeMillis
	span := tn - t0

	out := make([]*model.Frame, 0, m)
	for i := 0; i < m; i++ {
		target := t0
		if span > 0 {
			target = t0 + int64(float64(i)*float64(span)/float64(m-1))
		}
		out = append(out, nearest(batch, target))
	}
	return out
}

// nearest returns the frame in batch whose RelativeMillis is closest to
// target, breaking ties toward the earlier frame.
func nearest(batch []*model.Frame, target int64) *model.Frame {
	best := batch[0]
	bestDelta := abs64(best.RelativeMillis - target)
	for _, f := range batch[1:] {
		d := abs64(f.RelativeMillis - target)
		if d < bestDelta {
			best, bestDelta = f, d
		}
	}
	return best
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
