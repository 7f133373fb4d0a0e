package web

// StartWorkflowRequest is the payload for POST /workflows.
type StartWorkflowRequest struct {
	DefinitionID string         `json:"definition_id" validate:"required"`
	UserID       string         `json:"user_id,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// CompleteStepRequest is the payload for completing a parked user_action
// step. Success defaults to true when omitted.
type CompleteStepRequest struct {
	Success *bool          `json:"success,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// SuggestRequest carries the context snapshot definitions are matched
// against.
type SuggestRequest struct {
	Context map[string]any `json:"context"`
}
