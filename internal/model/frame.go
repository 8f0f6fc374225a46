// Package model holds the data shared across every component: frames,
// artifacts, inference records and the structures parsed out of the
// VLM/MCP responses. It has no third-party dependencies; every field that
// crosses a wire or lands on disk carries a json tag.
package model

import "time"

// Frame is a single decoded JPEG image handed off by the reader. Once
// published to the distributor a Frame MUST NOT be mutated; every reader
// downstream holds an independent reference to the same backing slice.
type Frame struct {
	Seq            uint64    `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
	RelativeMillis int64     `json:"relative_ms"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	ResizedWidth   int       `json:"resized_width,omitempty"`
	ResizedHeight  int       `json:"resized_height,omitempty"`
	Data           []byte    `json:"-"`
	TraceID        string    `json:"trace_id,omitempty"`
}
