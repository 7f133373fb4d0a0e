package engine

import (
	"errors"
	"fmt"
)

// Lifecycle and execution error sentinels. The first three are returned
// synchronously to lifecycle callers and never swallowed; the rest surface
// through the instance's error field and the workflow_failed event.
var (
	// ErrResourceExhausted indicates the concurrency bound is saturated.
	ErrResourceExhausted = errors.New("max concurrent workflows reached")

	// ErrNotFound indicates an unknown definition or instance id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStateTransition indicates a lifecycle call against a
	// non-matching instance status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrStepNotFound indicates the current step id is missing from the
	// instance arena. Fatal, never retried.
	ErrStepNotFound = errors.New("step not found in instance")

	// ErrDeadlock indicates pending steps exist but none has all its
	// dependencies satisfied. Fatal, never retried.
	ErrDeadlock = errors.New("workflow deadlocked")

	// ErrStepTimeout indicates a handler exceeded the step's timeout.
	ErrStepTimeout = errors.New("step timed out")

	// ErrStepExecution indicates a handler returned an error or an
	// unsuccessful result.
	ErrStepExecution = errors.New("step execution failed")

	// ErrMaxRetriesExceeded indicates the retry budget of a step ran out.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Error codes recorded on instance and step error records.
const (
	codeStepNotFound       = "step_not_found"
	codeDeadlock           = "deadlock"
	codeStepTimeout        = "step_timeout"
	codeStepExecution      = "step_execution_error"
	codeMaxRetriesExceeded = "max_retries_exceeded"
	codeHandlerMissing     = "handler_not_registered"
	codeUserActionRejected = "user_action_rejected"
)

// LifecycleError wraps lifecycle operation failures with the operation and
// target id.
type LifecycleError struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s failed for workflow %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

func (e *LifecycleError) Is(target error) bool { return errors.Is(e.Err, target) }

func newLifecycleError(op, instanceID string, err error) *LifecycleError {
	return &LifecycleError{Op: op, InstanceID: instanceID, Err: err}
}

// IsResourceExhausted checks whether err indicates backpressure.
func IsResourceExhausted(err error) bool { return errors.Is(err, ErrResourceExhausted) }

// IsNotFound checks whether err indicates an unknown id.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidStateTransition checks whether err indicates an illegal lifecycle
// call.
func IsInvalidStateTransition(err error) bool { return errors.Is(err, ErrInvalidStateTransition) }
