package model

import "time"

// ArtifactKind distinguishes the two Media Packager operating modes.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactVideo ArtifactKind = "video"
)

// SampledFrame describes one frame that was folded into a Video artifact.
type SampledFrame struct {
	OriginalSeq   uint64 `json:"original_seq"`
	RelativeMs    int64  `json:"relative_timestamp_ms"`
	FileName      string `json:"file_name"`
}

// MediaArtifact is either an Image (one JPEG) or a Video (an MP4 built from
// sampled frames). Each artifact owns a sub-directory under the session.
type MediaArtifact struct {
	ID         string       `json:"id"`
	Kind       ArtifactKind `json:"kind"`
	Dir        string       `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`

	// Image fields.
	ImagePath string `json:"image_path,omitempty"`
	FrameSeq  uint64 `json:"frame_seq,omitempty"`

	// Video fields.
	VideoPath        string         `json:"video_path,omitempty"`
	SampledFrames    []SampledFrame `json:"sampled_frames,omitempty"`
	FrameRangeFirst  uint64         `json:"frame_range_first,omitempty"`
	FrameRangeLast   uint64         `json:"frame_range_last,omitempty"`
	TargetDurationS  float64        `json:"target_duration_s,omitempty"`
	EffectiveSampleHz float64       `json:"effective_sample_hz,omitempty"`
}

// FrameRange returns the [first,last] upstream sequence span an artifact
// covers. For an Image artifact both bounds equal FrameSeq.
func (a *MediaArtifact) FrameRange() (first, last uint64) {
	if a.Kind == ArtifactImage {
		return a.FrameSeq, a.FrameSeq
	}
	return a.FrameRangeFirst, a.FrameRangeLast
}
