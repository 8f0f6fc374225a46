package model

import "time"

// BBox is a four-number bounding box exactly as received from the model,
// in model-pixel coordinates. Callers remap to display coordinates using
// ImageDimensions; the record never normalizes at write time.
type BBox [4]float64

// ImageDimensions records the pixel size of the image the model actually
// saw, so a bbox emitted against a resized frame can be remapped later.
type ImageDimensions struct {
	ModelWidth  int `json:"model_width"`
	ModelHeight int `json:"model_height"`
}

// Person is one detected person in a SceneResult.
type Person struct {
	ID       string `json:"id"`
	BBox     BBox   `json:"bbox"`
	Activity string `json:"activity"`
}

// Vehicle is one detected vehicle in a SceneResult.
type Vehicle struct {
	ID     string `json:"id"`
	BBox   BBox   `json:"bbox"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// SceneResult is the structured payload parsed out of the VLM's raw text
// response. Missing optional fields default to their zero value; unknown
// JSON fields are ignored by the decoder.
type SceneResult struct {
	Timestamp       string          `json:"timestamp"`
	PeopleCount     int             `json:"people_count"`
	VehicleCount    int             `json:"vehicle_count"`
	People          []Person        `json:"people"`
	Vehicles        []Vehicle       `json:"vehicles"`
	Summary         string          `json:"summary"`
	Response        string          `json:"response,omitempty"`
	ImageDimensions ImageDimensions `json:"image_dimensions"`
}

// IsAnalyticallyMeaningful is the predicate behind latest_inference_with_ai:
// non-zero object counts, a non-empty response, or (via the caller checking
// the sibling MCPResult) an attached MCP result all qualify.
func (s *SceneResult) IsAnalyticallyMeaningful() bool {
	if s == nil {
		return false
	}
	return s.PeopleCount > 0 || s.VehicleCount > 0 || s.Response != ""
}

// MCPResult is the outcome of an MCP Control Bridge call, folded back into
// the InferenceRecord that triggered it.
type MCPResult struct {
	Success     bool                   `json:"success"`
	ToolName    string                 `json:"tool_name,omitempty"`
	Arguments   map[string]interface{} `json:"arguments,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Result      string                 `json:"result,omitempty"`
	AIResponse  string                 `json:"ai_response,omitempty"`
}

// UserQuestion is a short ASR-supplied prompt; at most one is active
// process-wide at any time.
type UserQuestion struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// InferenceKind distinguishes a normal completion from a timeout/error
// record so history queries can tell them apart without parsing errors.
type InferenceKind string

const (
	InferenceOK      InferenceKind = "ok"
	InferenceTimeout InferenceKind = "timeout"
	InferenceError   InferenceKind = "error"
)

// InferenceRecord is attached 1:1 to a MediaArtifact.
type InferenceRecord struct {
	Media MediaArtifact `json:"media"`

	Kind InferenceKind `json:"kind"`

	InferenceStart time.Time  `json:"inference_start_time"`
	InferenceEnd   *time.Time `json:"inference_end_time,omitempty"`

	RawResult    string       `json:"raw_result,omitempty"`
	ParsedResult *SceneResult `json:"parsed_result,omitempty"`
	MCP          *MCPResult   `json:"mcp,omitempty"`
	UserQuestion string       `json:"user_question,omitempty"`

	Error string `json:"error,omitempty"`
}

// InProgress reports whether the remote call has not yet returned.
func (r *InferenceRecord) InProgress() bool {
	return r.InferenceEnd == nil
}

// Duration returns the wall-clock time spent on the remote call, or zero if
// the record is still in progress.
func (r *InferenceRecord) Duration() time.Duration {
	if r.InferenceEnd == nil {
		return 0
	}
	return r.InferenceEnd.Sub(r.InferenceStart)
}

// AnalyticallyMeaningful implements the inclusive latest_inference_with_ai
// definition from the result store's query surface: non-zero counts, a
// non-empty response, or an attached MCPResult all qualify.
func (r *InferenceRecord) AnalyticallyMeaningful() bool {
	if r.ParsedResult != nil && r.ParsedResult.IsAnalyticallyMeaningful() {
		return true
	}
	return r.MCP != nil
}
