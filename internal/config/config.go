// Package config loads and validates the YAML configuration that wires
// every component together.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete scenewatch configuration.
type Config struct {
	OutputDir string `yaml:"output_dir"`
	LogLevel  string `yaml:"log_level"`

	Stream    StreamConfig    `yaml:"stream"`
	Packager  PackagerConfig  `yaml:"packager"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	VLM       VLMConfig       `yaml:"vlm"`
	MCP       MCPConfig       `yaml:"mcp"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	ASR       ASRConfig       `yaml:"asr"`
	TTS       TTSConfig       `yaml:"tts"`
}

// StreamConfig configures the TCP frame reader (component A).
type StreamConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	MaxRetryDelay  time.Duration `yaml:"max_retry_delay"`
	UpstreamFPS    float64       `yaml:"upstream_fps"`
}

// PackagerConfig selects the operating mode and resize policy for
// component C via the (target-duration, fps, target-frames) triple.
type PackagerConfig struct {
	TargetDurationS  float64 `yaml:"target_duration_s"`
	OutputFPS        float64 `yaml:"output_fps"`
	TargetFrameCount int     `yaml:"target_frame_count"`
	MaxWidth         int     `yaml:"max_width"`
	MaxHeight        int     `yaml:"max_height"`
	FrameQueueSize   int     `yaml:"frame_queue_size"`
	ArtifactQueueSize int    `yaml:"artifact_queue_size"`
	FFmpegPath       string  `yaml:"ffmpeg_path"`
}

// IsImageMode reports whether the triple selects image mode: (1,1,1).
func (p PackagerConfig) IsImageMode() bool {
	return p.TargetDurationS == 1 && p.OutputFPS == 1 && p.TargetFrameCount == 1
}

// SchedulerConfig configures the inference discipline (component D).
type SchedulerConfig struct {
	Mode                string        `yaml:"mode"` // "sync" or "async"
	MaxConcurrent       int           `yaml:"max_concurrent"`
	CallTimeout         time.Duration `yaml:"call_timeout"`
	QuestionExpiry      time.Duration `yaml:"question_expiry"`
	MCPOnResponse       bool          `yaml:"mcp_on_response"`
	SentryModeEnabled   bool          `yaml:"sentry_mode_enabled"`
}

// VLMConfig configures the OpenAI-compatible VLM client (component E).
type VLMConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	UserPrompt   string        `yaml:"user_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// MCPConfig configures the MCP Control Bridge client (component F).
type MCPConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DeliveryConfig configures the WebSocket/REST surface (component H).
type DeliveryConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	SendQueueSize int    `yaml:"send_queue_size"`
}

// ASRConfig configures the ASR intake server (component I).
type ASRConfig struct {
	ListenAddr       string `yaml:"listen_addr"`
	MaxQuestionChars int    `yaml:"max_question_chars"`
}

// TTSConfig configures the TTS fan-out worker (component I).
type TTSConfig struct {
	Host          string        `yaml:"host"`
	Endpoint      string        `yaml:"endpoint"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

// Load reads and parses a YAML configuration file, then applies defaults
// and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
