package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions is the workflow-level state machine:
// draft → active → {paused, completed, failed, cancelled}; paused → {active,
// cancelled}. Terminal states have no outgoing edges.
var legalTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusDraft: {WorkflowStatusActive},
	WorkflowStatusActive: {
		WorkflowStatusPaused,
		WorkflowStatusCompleted,
		WorkflowStatusFailed,
		WorkflowStatusCancelled,
	},
	WorkflowStatusPaused: {WorkflowStatusActive, WorkflowStatusCancelled},
}

// CanTransition reports whether moving from s to next is a legal workflow
// status transition.
func (s WorkflowStatus) CanTransition(next WorkflowStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// WorkflowInstance is one execution of a definition. It owns a deep,
// independent copy of the definition's steps; two instances of the same
// definition never share step objects. Only the engine mutates an instance
// while it runs.
type WorkflowInstance struct {
	ID            string           `json:"id"`
	DefinitionID  string           `json:"definition_id"`
	UserID        string           `json:"user_id,omitempty"`
	Status        WorkflowStatus   `json:"status"`
	CurrentStepID string           `json:"current_step_id"`
	Steps         []*WorkflowStep  `json:"steps"`
	Context       *WorkflowContext `json:"context,omitempty"`
	Result        *WorkflowResult  `json:"result,omitempty"`
	Error         *WorkflowError   `json:"error,omitempty"`
	Persistent    bool             `json:"persistent"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// NewWorkflowInstance instantiates a definition: fresh id, active status,
// current step at the definition's entry step, every step template deep-copied
// into the instance arena with pending status, and the context snapshot
// captured as-is.
func NewWorkflowInstance(def *WorkflowDefinition, wfCtx *WorkflowContext) *WorkflowInstance {
	now := time.Now().UTC()

	steps := make([]*WorkflowStep, len(def.Steps))
	for i, tmpl := range def.Steps {
		step := tmpl.Clone()
		step.Status = StepStatusPending
		steps[i] = step
	}

	wfCtx = wfCtx.Clone()

	return &WorkflowInstance{
		ID:            "wfi-" + uuid.New().String(),
		DefinitionID:  def.ID,
		UserID:        wfCtx.UserID,
		Status:        WorkflowStatusActive,
		CurrentStepID: def.EntryStepID,
		Steps:         steps,
		Context:       wfCtx,
		Persistent:    true,
		Metadata:      make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// StepByID resolves a step id in the instance's arena.
func (i *WorkflowInstance) StepByID(stepID string) (*WorkflowStep, bool) {
	for _, step := range i.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// DependenciesMet reports whether every dependency of the step has completed
// within this instance.
func (i *WorkflowInstance) DependenciesMet(step *WorkflowStep) bool {
	for _, dep := range step.Dependencies {
		depStep, ok := i.StepByID(dep)
		if !ok || depStep.Status != StepStatusCompleted {
			return false
		}
	}

	return true
}

// NextEligibleStep scans the remaining pending steps for one whose
// dependencies are all completed. Scan order follows the arena order, so the
// choice is deterministic.
func (i *WorkflowInstance) NextEligibleStep() (*WorkflowStep, bool) {
	for _, step := range i.Steps {
		if step.Status != StepStatusPending {
			continue
		}

		if i.DependenciesMet(step) {
			return step, true
		}
	}

	return nil, false
}

// NextDependentStep returns the first pending step that lists completedID as
// a dependency. Arena order breaks ties, keeping serial advancement
// deterministic.
func (i *WorkflowInstance) NextDependentStep(completedID string) (*WorkflowStep, bool) {
	for _, step := range i.Steps {
		if step.Status != StepStatusPending {
			continue
		}

		if step.DependsOn(completedID) {
			return step, true
		}
	}

	return nil, false
}

// CompletedStepIDs returns step ids in completion order.
func (i *WorkflowInstance) CompletedStepIDs() []string {
	type done struct {
		id string
		at time.Time
	}

	completed := make([]done, 0, len(i.Steps))

	for _, step := range i.Steps {
		if step.Status == StepStatusCompleted && step.CompletedAt != nil {
			completed = append(completed, done{id: step.ID, at: *step.CompletedAt})
		}
	}

	// Insertion sort; instances have few steps.
	for j := 1; j < len(completed); j++ {
		for k := j; k > 0 && completed[k].at.Before(completed[k-1].at); k-- {
			completed[k], completed[k-1] = completed[k-1], completed[k]
		}
	}

	ids := make([]string, len(completed))
	for j, d := range completed {
		ids[j] = d.id
	}

	return ids
}

// Clone returns a deep copy of the instance, used when handing snapshots to
// callers so they can never reach the engine-owned record.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	clone := *i

	clone.Steps = make([]*WorkflowStep, len(i.Steps))
	for j, step := range i.Steps {
		clone.Steps[j] = step.Clone()
	}

	clone.Context = i.Context.Clone()
	clone.Metadata = cloneMap(i.Metadata)

	if i.CompletedAt != nil {
		completedAt := *i.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}
