package main

import (
	"context"
	"os"
	"time"

	"github.com/visiona/scenewatch/internal/config"
	"github.com/visiona/scenewatch/internal/mcpbridge"
	"github.com/visiona/scenewatch/internal/model"
	"github.com/visiona/scenewatch/internal/scheduler"
	"github.com/visiona/scenewatch/internal/vlm"
)

// newInferenceWorker builds the scheduler.Worker that turns one Dispatch
// into a finished InferenceRecord: read the artifact's media bytes off
// disk, call the VLM, and, when ShouldInvokeMCP says so, the MCP Control
// Bridge, folding the bridge's outcome into the same record rather than
// letting it fail the inference. schedRef defers reading the
// *scheduler.Scheduler until the worker actually runs, breaking the
// construction-order cycle between the scheduler (which needs a Worker)
// and the worker (which needs the scheduler's ShouldInvokeMCP).
func newInferenceWorker(vlmClient *vlm.Client, mcpClient *mcpbridge.Client, vlmCfg config.VLMConfig, schedRef func() *scheduler.Scheduler) scheduler.Worker {
	return func(ctx context.Context, d scheduler.Dispatch) *model.InferenceRecord {
		rec := &model.InferenceRecord{
			Media:          *d.Artifact,
			InferenceStart: time.Now(),
			UserQuestion:   d.Question,
		}

		mediaPath := d.Artifact.ImagePath
		mediaKind := vlm.MediaImage
		if d.Artifact.Kind == model.ArtifactVideo {
			mediaPath = d.Artifact.VideoPath
			mediaKind = vlm.MediaVideo
		}

		data, err := os.ReadFile(mediaPath)
		if err != nil {
			return finishWithError(rec, err, ctx)
		}

		result, err := vlmClient.Analyze(ctx, data, mediaKind, vlmCfg.SystemPrompt, vlmCfg.UserPrompt, d.Question)
		if err != nil {
			rec = finishWithError(rec, err, ctx)
			if result != nil {
				rec.RawResult = result.RawText
			}
			return rec
		}

		now := time.Now()
		rec.InferenceEnd = &now
		rec.Kind = model.InferenceOK
		rec.RawResult = result.RawText
		rec.ParsedResult = result.Scene

		if schedRef().ShouldInvokeMCP(result.MCP != nil) {
			rec.MCP = mcpClient.Analyze(ctx, mediaPath, d.Question)
		}

		return rec
	}
}

func finishWithError(rec *model.InferenceRecord, err error, ctx context.Context) *model.InferenceRecord {
	now := time.Now()
	rec.InferenceEnd = &now
	rec.Error = err.Error()
	if ctx.Err() != nil {
		rec.Kind = model.InferenceTimeout
	} else {
		rec.Kind = model.InferenceError
	}
	return rec
}
