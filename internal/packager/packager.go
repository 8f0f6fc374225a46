// Package packager implements the Media Packager (component C): it turns
// the live frame stream into analyzable MediaArtifacts on a fixed cadence,
// either single resized images or sampled-and-encoded MP4 clips.
package packager

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/visiona/scenewatch/internal/atomicfile"
	"github.com/visiona/scenewatch/internal/config"
	"github.com/visiona/scenewatch/internal/model"
)

// FrameSource is anything the packager can pull the latest frame from — in
// production this is a distributor.Subscription.
type FrameSource interface {
	Next(timeout time.Duration) (*model.Frame, bool)
}

// Packager owns the in-progress batch and gives each artifact a random UUID
// id. It reads frames from a FrameSource, and pushes finished
// MediaArtifacts onto a bounded, blocking ready queue.
type Packager struct {
	cfg     config.PackagerConfig
	src     FrameSource
	session *model.Session
	logger  *slog.Logger

	ready chan *model.MediaArtifact

	intake chan *model.Frame
}

// New constructs a Packager. ready is the bounded, blocking artifact queue
// (capacity ArtifactQueueSize); the frame intake queue (capacity
// FrameQueueSize, lossy-on-full drop-oldest) is owned internally.
func New(cfg config.PackagerConfig, src FrameSource, session *model.Session, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{
		cfg:     cfg,
		src:     src,
		session: session,
		logger:  logger.With("component", "packager"),
		ready:   make(chan *model.MediaArtifact, cfg.ArtifactQueueSize),
		intake:  make(chan *model.Frame, cfg.FrameQueueSize),
	}
}

// Ready returns the read side of the bounded, blocking ready-artifact
// queue.
func (p *Packager) Ready() <-chan *model.MediaArtifact { return p.ready }

// Run drives both the pull-from-source loop and the fixed-cadence
// batch/pack loop until ctx is cancelled.
func (p *Packager) Run(ctx context.Context) {
	go p.pullLoop(ctx)

	if p.cfg.IsImageMode() {
		p.imageLoop(ctx)
	} else {
		p.videoLoop(ctx)
	}
}

// pullLoop continuously drains the frame source into the intake queue,
// dropping the oldest queued frame when the queue is full — the frame
// intake queue's policy is lossy, never blocking the upstream reader.
func (p *Packager) pullLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		f, ok := p.src.Next(200 * time.Millisecond)
		if !ok || f == nil {
			continue
		}
		select {
		case p.intake <- f:
		default:
			select {
			case <-p.intake:
			default:
			}
			select {
			case p.intake <- f:
			default:
			}
		}
	}
}

// imageLoop implements the (1,1,1) triple: every cadence tick, take the
// newest frame and emit it as an Image artifact.
func (p *Packager) imageLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.cfg.TargetDurationS * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f := p.latestFromIntake()
			if f == nil {
				continue
			}
			artifact, err := p.packImage(f)
			if err != nil {
				p.logger.Warn("image packaging failed, dropping tick", "error", err)
				continue
			}
			p.enqueue(ctx, artifact)
		}
	}
}

// videoLoop implements video mode: collects frames into a batch of size
// ceil(target_duration*upstream_fps worth of wall-clock time), and on batch
// close samples/encodes an MP4.
func (p *Packager) videoLoop(ctx context.Context) {
	windowDur := time.Duration(p.cfg.TargetDurationS * float64(time.Second))
	var batch []*model.Frame
	windowEnd := time.Now().Add(windowDur)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		artifact, err := p.packVideo(batch)
		batch = nil
		if err != nil {
			p.logger.Warn("video packaging failed, batch dropped", "error", err)
			return
		}
		p.enqueue(ctx, artifact)
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case f := <-p.intake:
			batch = append(batch, f)
		case <-ticker.C:
			if time.Now().After(windowEnd) {
				flush()
				windowEnd = time.Now().Add(windowDur)
			}
		}
	}
}

func (p *Packager) latestFromIntake() *model.Frame {
	var f *model.Frame
	for {
		select {
		case next := <-p.intake:
			f = next
		default:
			return f
		}
	}
}

// enqueue pushes onto the bounded, blocking ready queue — a full queue
// pauses the packager, which is the observable "pause in new artifacts"
// boundary behavior.
func (p *Packager) enqueue(ctx context.Context, a *model.MediaArtifact) {
	select {
	case p.ready <- a:
	case <-ctx.Done():
	}
}

func (p *Packager) packImage(f *model.Frame) (*model.MediaArtifact, error) {
	id := uuid.NewString()
	resized, w, h, err := resizeJPEG(f.Data, p.cfg.MaxWidth, p.cfg.MaxHeight)
	if err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}

	now := time.Now()
	dirName := fmt.Sprintf("frame_%d_%s_%03d_details", f.Seq, now.Format("150405"), now.Nanosecond()/1e6)
	dir := filepath.Join(p.session.Dir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	imgPath := filepath.Join(dir, id+".jpg")
	if err := os.WriteFile(imgPath, resized, 0o644); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}

	artifact := &model.MediaArtifact{
		ID:        id,
		Kind:      model.ArtifactImage,
		Dir:       dir,
		CreatedAt: now,
		ImagePath: imgPath,
		FrameSeq:  f.Seq,
	}
	_ = w
	_ = h
	return artifact, nil
}

// videoDetails mirrors the video_details.json shape from §6.
type videoDetails struct {
	VideoPath          string               `json:"video_path"`
	FrameCount         int                  `json:"frame_count"`
	StartTimestamp     string               `json:"start_timestamp"`
	EndTimestamp       string               `json:"end_timestamp"`
	OriginalFrameRange [2]uint64            `json:"original_frame_range"`
	SamplingInfo       videoSamplingInfo    `json:"sampling_info"`
	Frames             []model.SampledFrame `json:"sampled_frames"`
}

type videoSamplingInfo struct {
	TargetDurationS   float64 `json:"target_duration_s"`
	OutputFPS         float64 `json:"output_fps"`
	TargetFrameCount  int     `json:"target_frame_count"`
	EffectiveSampleHz float64 `json:"effective_sample_hz"`
}

func (p *Packager) packVideo(batch []*model.Frame) (*model.MediaArtifact, error) {
	targetCount := p.cfg.TargetFrameCount
	sampled := sampleFrames(batch, targetCount)
	if len(sampled) == 0 {
		return nil, fmt.Errorf("empty sample set")
	}

	resizedJPEGs := make([][]byte, 0, len(sampled))
	sampleDescriptors := make([]model.SampledFrame, 0, len(sampled))
	for i, f := range sampled {
		resized, _, _, err := resizeJPEG(f.Data, p.cfg.MaxWidth, p.cfg.MaxHeight)
		if err != nil {
			return nil, fmt.Errorf("resize sampled frame %d: %w", i, err)
		}
		resizedJPEGs = append(resizedJPEGs, resized)
		sampleDescriptors = append(sampleDescriptors, model.SampledFrame{
			OriginalSeq: f.Seq,
			RelativeMs:  f.RelativeMillis,
			FileName:    fmt.Sprintf("sample_%03d.jpg", i),
		})
	}

	id := uuid.NewString()
	now := time.Now()
	dir := filepath.Join(p.session.Dir, fmt.Sprintf("sampled_video_%s_details", id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	videoPath := filepath.Join(dir, fmt.Sprintf("sampled_video_%s.mp4", id))
	if err := encodeMP4(p.cfg.FFmpegPath, resizedJPEGs, p.cfg.OutputFPS, videoPath, p.logger); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	first, last := batch[0].Seq, batch[len(batch)-1].Seq
	effectiveHz := float64(len(sampled)) / p.cfg.TargetDurationS

	details := videoDetails{
		VideoPath:          videoPath,
		FrameCount:         len(sampled),
		StartTimestamp:     batch[0].Timestamp.Format(time.RFC3339Nano),
		EndTimestamp:       batch[len(batch)-1].Timestamp.Format(time.RFC3339Nano),
		OriginalFrameRange: [2]uint64{first, last},
		SamplingInfo: videoSamplingInfo{
			TargetDurationS:   p.cfg.TargetDurationS,
			OutputFPS:         p.cfg.OutputFPS,
			TargetFrameCount:  targetCount,
			EffectiveSampleHz: math.Round(effectiveHz*100) / 100,
		},
		Frames: sampleDescriptors,
	}
	if err := atomicfile.WriteJSON(filepath.Join(dir, "video_details.json"), details); err != nil {
		return nil, fmt.Errorf("write video_details.json: %w", err)
	}

	return &model.MediaArtifact{
		ID:                id,
		Kind:              model.ArtifactVideo,
		Dir:               dir,
		CreatedAt:         now,
		VideoPath:         videoPath,
		SampledFrames:     sampleDescriptors,
		FrameRangeFirst:   first,
		FrameRangeLast:    last,
		TargetDurationS:   p.cfg.TargetDurationS,
		EffectiveSampleHz: effectiveHz,
	}, nil
}
