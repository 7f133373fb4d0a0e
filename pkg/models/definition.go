// Package models defines the core domain models for dependency-ordered
// workflow orchestration: definitions, instances, steps and their results.
package models

import (
	"fmt"
)

// AutomationLevel describes how much of a workflow runs without the user.
type AutomationLevel string

const (
	AutomationLevelFull     AutomationLevel = "full"
	AutomationLevelAssisted AutomationLevel = "assisted"
	AutomationLevelManual   AutomationLevel = "manual"
)

// ContextRequirement is one predicate of a definition's required context.
// Key must be present in the context snapshot; when Equals is non-nil the
// snapshot value must also compare equal.
type ContextRequirement struct {
	Key    string `json:"key"    validate:"required"`
	Equals any    `json:"equals,omitempty"`
}

// WorkflowDefinition is an immutable template describing an ordered,
// dependency-linked set of steps. Registered definitions are never mutated;
// the engine instantiates them by deep-copying the step set.
type WorkflowDefinition struct {
	ID                   string               `json:"id"          validate:"required"`
	Name                 string               `json:"name"        validate:"required,min=3"`
	Description          string               `json:"description,omitempty"`
	Category             string               `json:"category"    validate:"required"`
	Steps                []*WorkflowStep      `json:"steps"       validate:"required,min=1"`
	EntryStepID          string               `json:"entry_step_id" validate:"required"`
	RequiredContext      []ContextRequirement `json:"required_context,omitempty"`
	EstimatedTimeMinutes int                  `json:"estimated_time_minutes" validate:"min=0"`
	Priority             int                  `json:"priority"`
	AutomationLevel      AutomationLevel      `json:"automation_level,omitempty"`
	Metadata             map[string]any       `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the definition, including its step templates.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	clone := *d

	clone.Steps = make([]*WorkflowStep, len(d.Steps))
	for i, step := range d.Steps {
		clone.Steps[i] = step.Clone()
	}

	if d.RequiredContext != nil {
		clone.RequiredContext = make([]ContextRequirement, len(d.RequiredContext))
		copy(clone.RequiredContext, d.RequiredContext)
	}

	clone.Metadata = cloneMap(d.Metadata)

	return &clone
}

// StepByID looks a step template up in the definition's step arena.
func (d *WorkflowDefinition) StepByID(stepID string) (*WorkflowStep, bool) {
	for _, step := range d.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// MatchesContext reports whether every context requirement of the definition
// is satisfied by the given snapshot.
func (d *WorkflowDefinition) MatchesContext(snapshot map[string]any) bool {
	for _, req := range d.RequiredContext {
		value, ok := snapshot[req.Key]
		if !ok {
			return false
		}

		if req.Equals != nil && value != req.Equals {
			return false
		}
	}

	return true
}

// ValidateGraph checks the step dependency relation: step ids must be unique,
// dependencies must reference existing steps, the graph must be acyclic, and
// every non-entry step must be reachable from the entry step. A definition
// failing any of these would deadlock or dead-end at runtime, so registration
// rejects it up front.
func (d *WorkflowDefinition) ValidateGraph() error {
	steps := make(map[string]*WorkflowStep, len(d.Steps))

	for _, step := range d.Steps {
		if _, dup := steps[step.ID]; dup {
			return fmt.Errorf("definition %s: duplicate step id %s", d.ID, step.ID)
		}

		steps[step.ID] = step
	}

	if _, ok := steps[d.EntryStepID]; !ok {
		return fmt.Errorf("definition %s: entry step %s does not exist", d.ID, d.EntryStepID)
	}

	for _, step := range d.Steps {
		for _, dep := range step.Dependencies {
			if _, ok := steps[dep]; !ok {
				return fmt.Errorf("definition %s: step %s depends on unknown step %s",
					d.ID, step.ID, dep)
			}

			if dep == step.ID {
				return fmt.Errorf("definition %s: step %s depends on itself", d.ID, step.ID)
			}
		}
	}

	if cycle := findCycle(steps); cycle != "" {
		return fmt.Errorf("definition %s: dependency cycle through step %s", d.ID, cycle)
	}

	if unreachable := findUnreachable(d.EntryStepID, steps); unreachable != "" {
		return fmt.Errorf("definition %s: step %s is not reachable from entry step %s",
			d.ID, unreachable, d.EntryStepID)
	}

	return nil
}

// findCycle runs a colored DFS over the dependency edges and returns the id
// of a step on a cycle, or "" when the graph is acyclic.
func findCycle(steps map[string]*WorkflowStep) string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(steps))

	var visit func(id string) string

	visit = func(id string) string {
		color[id] = gray

		for _, dep := range steps[id].Dependencies {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}

		color[id] = black

		return ""
	}

	for id := range steps {
		if color[id] == white {
			if found := visit(id); found != "" {
				return found
			}
		}
	}

	return ""
}

// findUnreachable walks the graph treating edges as undirected adjacency from
// the entry step (a step is reachable if it depends, transitively, on a
// reachable step) and returns the id of the first orphan found.
func findUnreachable(entryID string, steps map[string]*WorkflowStep) string {
	reachable := map[string]bool{entryID: true}

	// Dependencies point backwards, so propagate reachability forward until
	// a fixpoint: a step is reachable once any of its dependencies is.
	for changed := true; changed; {
		changed = false

		for id, step := range steps {
			if reachable[id] {
				continue
			}

			for _, dep := range step.Dependencies {
				if reachable[dep] {
					reachable[id] = true
					changed = true

					break
				}
			}
		}
	}

	for id := range steps {
		if !reachable[id] {
			return id
		}
	}

	return ""
}
