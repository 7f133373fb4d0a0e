// Package registry holds the catalog of workflow definitions and the mapping
// from step types to their handlers.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/inboxpilot/conduit/pkg/models"
)

var (
	// ErrDuplicateDefinition indicates a definition id is already registered.
	ErrDuplicateDefinition = errors.New("workflow definition already registered")

	// ErrDefinitionNotFound indicates no definition exists for the given id.
	ErrDefinitionNotFound = errors.New("workflow definition not found")
)

// DefinitionError wraps registration failures with the offending id.
type DefinitionError struct {
	Op           string
	DefinitionID string
	Err          error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s failed for definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

func (e *DefinitionError) Is(target error) bool { return errors.Is(e.Err, target) }

// DefinitionRegistry is the immutable-template catalog. Registration stores a
// defensive copy, so later mutation of the caller's definition cannot corrupt
// the catalog, and validates the step graph up front: a definition that would
// deadlock at runtime is rejected here instead.
type DefinitionRegistry struct {
	mu          sync.RWMutex
	definitions map[string]*models.WorkflowDefinition
	validate    *validator.Validate
}

// NewDefinitionRegistry returns an empty catalog.
func NewDefinitionRegistry() *DefinitionRegistry {
	return &DefinitionRegistry{
		definitions: make(map[string]*models.WorkflowDefinition),
		validate:    validator.New(),
	}
}

// Register validates and stores a defensive copy of the definition.
func (r *DefinitionRegistry) Register(def *models.WorkflowDefinition) error {
	if err := r.validate.Struct(def); err != nil {
		return &DefinitionError{Op: "Register", DefinitionID: def.ID, Err: err}
	}

	for _, step := range def.Steps {
		if err := step.Validate(); err != nil {
			return &DefinitionError{Op: "Register", DefinitionID: def.ID, Err: err}
		}
	}

	if err := def.ValidateGraph(); err != nil {
		return &DefinitionError{Op: "Register", DefinitionID: def.ID, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.definitions[def.ID]; exists {
		return &DefinitionError{Op: "Register", DefinitionID: def.ID, Err: ErrDuplicateDefinition}
	}

	r.definitions[def.ID] = def.Clone()

	return nil
}

// Get returns a copy of the definition or ErrDefinitionNotFound.
func (r *DefinitionRegistry) Get(id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[id]
	if !ok {
		return nil, &DefinitionError{Op: "Get", DefinitionID: id, Err: ErrDefinitionNotFound}
	}

	return def.Clone(), nil
}

// List returns copies of every registered definition, sorted by id.
func (r *DefinitionRegistry) List() []*models.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*models.WorkflowDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def.Clone())
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	return defs
}

// ListForContext filters definitions whose required-context predicates match
// the snapshot.
func (r *DefinitionRegistry) ListForContext(snapshot map[string]any) []*models.WorkflowDefinition {
	matched := make([]*models.WorkflowDefinition, 0)

	for _, def := range r.List() {
		if def.MatchesContext(snapshot) {
			matched = append(matched, def)
		}
	}

	return matched
}

// Suggest returns context-matching definitions ordered for display: priority
// descending, ties broken by estimated time ascending. Callers show this list
// directly, so the ordering is part of the contract.
func (r *DefinitionRegistry) Suggest(snapshot map[string]any) []*models.WorkflowDefinition {
	matched := r.ListForContext(snapshot)

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}

		return matched[i].EstimatedTimeMinutes < matched[j].EstimatedTimeMinutes
	})

	return matched
}
