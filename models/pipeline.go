package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PipelineRunStatus represents the status of a pipeline run
type PipelineRunStatus string

const (
	RunStatusRunning   PipelineRunStatus = "running"
	RunStatusCompleted PipelineRunStatus = "completed"
	RunStatusFailed    PipelineRunStatus = "failed"
)

// ModelRef identifies one (model, provider) pair in a fallback chain.
type ModelRef struct {
	Model    string `json:"model"`
	Provider string `json:"provider"` // "gemini", "openai", "anthropic"
}

// ModelSelection holds the ordered fallback chains per pipeline role.
type ModelSelection struct {
	Research []ModelRef `json:"research"`
	Generate []ModelRef `json:"generate"`
	Review   []ModelRef `json:"review"`
}

// Value implements driver.Valuer for JSONB
func (m ModelSelection) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB
func (m *ModelSelection) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	if len(bytes) == 0 {
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// JSONMap is a generic JSONB column payload.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONMap)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*j = make(JSONMap)
		return nil
	}

	if len(bytes) == 0 {
		*j = make(JSONMap)
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// PipelineRun records one analyze invocation. A run makes exactly one
// terminal transition (completed or failed) and is never re-entered after.
type PipelineRun struct {
	ID           uuid.UUID         `json:"id"`
	BillID       uuid.UUID         `json:"bill_id"`
	Jurisdiction string            `json:"jurisdiction"`
	Models       ModelSelection    `json:"models"`
	Status       PipelineRunStatus `json:"status"`
	Result       JSONMap           `json:"result,omitempty"`
	ErrorMessage *string           `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// PipelineStep is an auditable record of one stage inside a run. Steps are
// unique per (run_id, step_number); a retried step overwrites its own prior
// record rather than appending a duplicate.
type PipelineStep struct {
	ID           uuid.UUID `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	StepNumber   int       `json:"step_number"`
	StepName     string    `json:"step_name"`
	Status       string    `json:"status"` // "completed", "failed"
	InputContext JSONMap   `json:"input_context"`
	OutputResult JSONMap   `json:"output_result"`
	ModelInfo    *string   `json:"model_info,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
