package models

import "time"

// MetadataAwaitingCompletion marks a step result that only acknowledges the
// step was handed to an external party; the engine must not advance past it
// until the missing outcome is supplied explicitly.
const MetadataAwaitingCompletion = "awaiting_completion"

// StepResult is the value record a handler produces. Never mutated after
// creation.
type StepResult struct {
	Type     StepType       `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AwaitingCompletion reports whether the result defers the real outcome to an
// external completion call.
func (r *StepResult) AwaitingCompletion() bool {
	if r == nil || r.Metadata == nil {
		return false
	}

	awaiting, _ := r.Metadata[MetadataAwaitingCompletion].(bool)

	return awaiting
}

// StepError is the value record describing one failed step attempt.
type StepError struct {
	StepID    string    `json:"step_id"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StepError) Error() string {
	return e.Code + ": " + e.Message
}

// WorkflowResult summarizes a completed instance.
type WorkflowResult struct {
	Summary     []string       `json:"summary"` // step ids in completion order
	Data        map[string]any `json:"data,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// WorkflowError describes why an instance terminated in failed status.
type WorkflowError struct {
	StepID   string    `json:"step_id,omitempty"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	FailedAt time.Time `json:"failed_at"`
}

func (e *WorkflowError) Error() string {
	if e.StepID != "" {
		return e.Code + " at step " + e.StepID + ": " + e.Message
	}

	return e.Code + ": " + e.Message
}
