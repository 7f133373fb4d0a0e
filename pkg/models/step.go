package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepType discriminates the kind of work a step performs and selects both
// its config variant and the handler invoked for it.
type StepType string

const (
	StepTypeAIAction             StepType = "ai_action"
	StepTypeUserAction           StepType = "user_action"
	StepTypeSmartShare           StepType = "smart_share"
	StepTypeProviderVerification StepType = "provider_verification"
	StepTypeDeliverabilityFix    StepType = "deliverability_fix"
	StepTypeDocumentGeneration   StepType = "document_generation"
	StepTypeEmailSend            StepType = "email_send"
	StepTypeWait                 StepType = "wait"
	StepTypeContextCheck         StepType = "context_check"
)

// StepTypes lists every known step type, in stable order.
func StepTypes() []StepType {
	return []StepType{
		StepTypeAIAction,
		StepTypeUserAction,
		StepTypeSmartShare,
		StepTypeProviderVerification,
		StepTypeDeliverabilityFix,
		StepTypeDocumentGeneration,
		StepTypeEmailSend,
		StepTypeWait,
		StepTypeContextCheck,
	}
}

// StepStatus is the runtime state of a step inside one workflow instance.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusPaused     StepStatus = "paused"
	StepStatusSkipped    StepStatus = "skipped"
)

// WorkflowStep is a unit of work inside a definition. Inside an instance the
// same struct carries the runtime annotations (Status, Result, RetryCount...),
// which stay zero-valued on the definition template.
//
// Steps reference each other by ID only. Dependency resolution always goes
// through the owning instance's step arena, never through pointers, so the
// step graph stays acyclic at the object level.
type WorkflowStep struct {
	ID           string        `json:"id"            validate:"required"`
	Name         string        `json:"name"          validate:"required"`
	Type         StepType      `json:"type"          validate:"required"`
	Config       StepConfig    `json:"config"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Timeout      time.Duration `json:"-"` // 0 means no timeout; crosses JSON as timeout_ms
	MaxRetries   int           `json:"max_retries"   validate:"min=0"`

	// Runtime fields, populated only on instance copies.
	Status      StepStatus  `json:"status,omitempty"`
	Result      *StepResult `json:"result,omitempty"`
	Error       *StepError  `json:"error,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	RetryCount  int         `json:"retry_count,omitempty"`
}

// stepAlias breaks the Marshal/Unmarshal recursion below.
type stepAlias WorkflowStep

// stepJSON is the wire form of a step. The timeout crosses JSON as integer
// milliseconds, like WaitConfig's duration_ms; a bare Duration would make
// catalog authors write nanoseconds.
type stepJSON struct {
	*stepAlias

	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

func (s *WorkflowStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepJSON{
		stepAlias: (*stepAlias)(s),
		TimeoutMs: s.Timeout.Milliseconds(),
	})
}

func (s *WorkflowStep) UnmarshalJSON(data []byte) error {
	aux := stepJSON{stepAlias: (*stepAlias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.Timeout = time.Duration(aux.TimeoutMs) * time.Millisecond

	return nil
}

// Clone returns a deep, independent copy of the step. Result and Error are
// value records that are never mutated after creation, so sharing their
// pointees is safe; everything the engine mutates is copied.
func (s *WorkflowStep) Clone() *WorkflowStep {
	clone := *s

	if s.Dependencies != nil {
		clone.Dependencies = make([]string, len(s.Dependencies))
		copy(clone.Dependencies, s.Dependencies)
	}

	clone.Config = s.Config.clone()

	if s.StartedAt != nil {
		startedAt := *s.StartedAt
		clone.StartedAt = &startedAt
	}

	if s.CompletedAt != nil {
		completedAt := *s.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}

// DependsOn reports whether the step lists stepID as a dependency.
func (s *WorkflowStep) DependsOn(stepID string) bool {
	for _, dep := range s.Dependencies {
		if dep == stepID {
			return true
		}
	}

	return false
}

// Validate checks the step template for structural problems.
func (s *WorkflowStep) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step has no id")
	}

	if !isKnownStepType(s.Type) {
		return fmt.Errorf("step %s: unknown type %q", s.ID, s.Type)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("step %s: negative max_retries", s.ID)
	}

	if s.Timeout < 0 {
		return fmt.Errorf("step %s: negative timeout", s.ID)
	}

	return s.Config.validateFor(s.Type, s.ID)
}

func isKnownStepType(t StepType) bool {
	for _, known := range StepTypes() {
		if t == known {
			return true
		}
	}

	return false
}
