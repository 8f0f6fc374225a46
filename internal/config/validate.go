package config

import (
	"fmt"
	"time"
)

// Validate checks the configuration for correctness and fills in defaults
// for anything left zero-valued, matching the source system's convention
// of tolerating a minimal config file and defaulting the rest.
func Validate(cfg *Config) error {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./output"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Stream.Endpoint == "" {
		return fmt.Errorf("stream.endpoint is required")
	}
	if cfg.Stream.ConnectTimeout <= 0 {
		cfg.Stream.ConnectTimeout = 5 * time.Second
	}
	if cfg.Stream.MaxRetries <= 0 {
		cfg.Stream.MaxRetries = 5
	}
	if cfg.Stream.RetryBaseDelay <= 0 {
		cfg.Stream.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Stream.MaxRetryDelay <= 0 {
		cfg.Stream.MaxRetryDelay = 30 * time.Second
	}
	if cfg.Stream.UpstreamFPS <= 0 {
		cfg.Stream.UpstreamFPS = 25
	}

	if cfg.Packager.TargetDurationS <= 0 {
		cfg.Packager.TargetDurationS = 1
	}
	if cfg.Packager.OutputFPS <= 0 {
		cfg.Packager.OutputFPS = 1
	}
	if cfg.Packager.TargetFrameCount <= 0 {
		cfg.Packager.TargetFrameCount = 1
	}
	if cfg.Packager.MaxWidth <= 0 {
		cfg.Packager.MaxWidth = 640
	}
	if cfg.Packager.MaxHeight <= 0 {
		cfg.Packager.MaxHeight = 360
	}
	if cfg.Packager.FrameQueueSize <= 0 {
		cfg.Packager.FrameQueueSize = 100
	}
	if cfg.Packager.ArtifactQueueSize <= 0 {
		cfg.Packager.ArtifactQueueSize = 10
	}
	if cfg.Packager.FFmpegPath == "" {
		cfg.Packager.FFmpegPath = "ffmpeg"
	}

	switch cfg.Scheduler.Mode {
	case "":
		cfg.Scheduler.Mode = "sync"
	case "sync", "async":
	default:
		return fmt.Errorf("scheduler.mode must be 'sync' or 'async', got %q", cfg.Scheduler.Mode)
	}
	if cfg.Scheduler.MaxConcurrent <= 0 {
		cfg.Scheduler.MaxConcurrent = 1
	}
	if cfg.Scheduler.CallTimeout <= 0 {
		cfg.Scheduler.CallTimeout = 60 * time.Second
	}
	if cfg.Scheduler.QuestionExpiry <= 0 {
		cfg.Scheduler.QuestionExpiry = 300 * time.Second
	}

	if cfg.VLM.BaseURL == "" {
		return fmt.Errorf("vlm.base_url is required")
	}
	if cfg.VLM.Model == "" {
		return fmt.Errorf("vlm.model is required")
	}
	if cfg.VLM.Timeout <= 0 {
		cfg.VLM.Timeout = cfg.Scheduler.CallTimeout
	}
	if cfg.VLM.SystemPrompt == "" {
		cfg.VLM.SystemPrompt = "You are a video monitoring assistant. Describe the scene as structured JSON."
	}
	if cfg.VLM.UserPrompt == "" {
		cfg.VLM.UserPrompt = "Analyze this footage and report people, vehicles and a one-sentence summary."
	}

	if cfg.MCP.Timeout <= 0 {
		cfg.MCP.Timeout = 10 * time.Second
	}

	if cfg.Delivery.ListenAddr == "" {
		cfg.Delivery.ListenAddr = ":8080"
	}
	if cfg.Delivery.SendQueueSize <= 0 {
		cfg.Delivery.SendQueueSize = 32
	}

	if cfg.ASR.ListenAddr == "" {
		cfg.ASR.ListenAddr = ":8090"
	}
	if cfg.ASR.MaxQuestionChars <= 0 {
		cfg.ASR.MaxQuestionChars = 500
	}

	if cfg.TTS.PollInterval <= 0 {
		cfg.TTS.PollInterval = 5 * time.Second
	}
	if cfg.TTS.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("tts.poll_interval must be at least 100ms")
	}
	if cfg.TTS.RequestTimeout <= 0 {
		cfg.TTS.RequestTimeout = 10 * time.Second
	}
	if cfg.TTS.MaxRetries <= 0 {
		cfg.TTS.MaxRetries = 3
	}

	return nil
}
