// Package store defines the persistence abstraction for workflow instance
// state and its standardized error types.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inboxpilot/conduit/pkg/models"
)

// InstanceStore persists workflow instance state. Save is an idempotent
// upsert keyed by instance id. UpdateStatus and UpdateStepStatus exist so
// durable backends can touch a single row or field instead of rewriting the
// whole record.
type InstanceStore interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	Load(ctx context.Context, id string) (*models.WorkflowInstance, error)
	LoadForUser(ctx context.Context, userID string) ([]*models.WorkflowInstance, error)
	UpdateStatus(ctx context.Context, id string, status models.WorkflowStatus) error
	UpdateStepStatus(ctx context.Context, id, stepID string, status models.StepStatus) error

	// DeleteOlderThan removes terminal instances whose last update is older
	// than maxAge and returns how many were removed.
	DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Standard store error sentinels.
var (
	// ErrInstanceNotFound indicates no instance exists for the given id.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrStepNotFound indicates the instance has no step with the given id.
	ErrStepNotFound = errors.New("workflow step not found")
)

// InstanceError wraps instance-related store failures with operation context.
type InstanceError struct {
	Op         string // operation being performed ("Save", "Load", ...)
	InstanceID string
	StepID     string
	Err        error
}

func (e *InstanceError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s failed for step %s of instance %s: %v",
			e.Op, e.StepID, e.InstanceID, e.Err)
	}

	return fmt.Sprintf("%s failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error { return e.Err }

func (e *InstanceError) Is(target error) bool { return errors.Is(e.Err, target) }

// NewInstanceError creates an instance error with operation context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// NewStepError creates a store error scoped to one step of an instance.
func NewStepError(op, instanceID, stepID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, StepID: stepID, Err: err}
}

// IsInstanceNotFound checks whether err indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsStepNotFound checks whether err indicates a missing step.
func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}
