package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/inboxpilot/conduit/pkg/events"
	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/otelhelper"
	"github.com/inboxpilot/conduit/pkg/protocol"
)

// dispatch schedules the run loop for an instance on its own goroutine.
func (e *Engine) dispatch(instanceID string) {
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.run(instanceID)
	}()
}

// run drives one instance's steps sequentially while it stays active. Exactly
// one run loop owns an instance at a time: pause, cancel, resume, and user
// action completion bump the instance's generation, so a loop that observes a
// generation other than the one it last ran under has been superseded by a
// fresh dispatch and must yield instead of executing a duplicate step.
func (e *Engine) run(instanceID string) {
	// Generation this loop last ran an iteration under; zero until the first
	// iteration (StartWorkflow seeds runGen at 1).
	var ownedGen uint64

	for {
		e.mu.Lock()

		instance, ok := e.instances[instanceID]
		if !ok || instance.Status != models.WorkflowStatusActive {
			e.mu.Unlock()

			return
		}

		gen := e.runGen[instanceID]
		if ownedGen != 0 && gen != ownedGen {
			// A pause/resume cycle landed while this loop was between
			// iterations (typically inside the retry delay) and dispatched a
			// replacement loop. Yield before touching the step.
			e.mu.Unlock()
			e.logger.Debug("Yielding superseded run loop",
				"instance_id", instanceID)

			return
		}

		ownedGen = gen

		step, ok := instance.StepByID(instance.CurrentStepID)
		if !ok {
			e.failWorkflowLocked(instance, &models.WorkflowError{
				StepID:   instance.CurrentStepID,
				Code:     codeStepNotFound,
				Message:  fmt.Sprintf("step %s not found in instance", instance.CurrentStepID),
				FailedAt: time.Now().UTC(),
			})

			return
		}

		switch step.Status {
		case models.StepStatusCompleted:
			// Resumed onto an already-finished step: just advance.
			if !e.advanceLocked(instance, step.ID) {
				return
			}

			e.mu.Unlock()

			continue
		case models.StepStatusPaused:
			// Awaiting an external completion (user_action). Park.
			e.mu.Unlock()

			return
		case models.StepStatusSkipped, models.StepStatusFailed:
			e.failWorkflowLocked(instance, &models.WorkflowError{
				StepID:   step.ID,
				Code:     codeStepExecution,
				Message:  fmt.Sprintf("step %s is %s and cannot run", step.ID, step.Status),
				FailedAt: time.Now().UTC(),
			})

			return
		case models.StepStatusPending, models.StepStatusInProgress:
			// Executable.
		}

		if !instance.DependenciesMet(step) {
			next, ok := instance.NextEligibleStep()
			if !ok {
				e.failWorkflowLocked(instance, &models.WorkflowError{
					StepID:   step.ID,
					Code:     codeDeadlock,
					Message:  "no executable pending step despite unmet dependencies",
					FailedAt: time.Now().UTC(),
				})

				return
			}

			instance.CurrentStepID = next.ID
			e.mu.Unlock()

			continue
		}

		handler, handlerErr := e.handlers.Get(step.Type)
		if handlerErr != nil {
			// Unregistered step type: configuration error, fatal on first use.
			e.failWorkflowLocked(instance, &models.WorkflowError{
				StepID:   step.ID,
				Code:     codeHandlerMissing,
				Message:  handlerErr.Error(),
				FailedAt: time.Now().UTC(),
			})

			return
		}

		now := time.Now().UTC()
		step.Status = models.StepStatusInProgress
		step.StartedAt = &now
		attempt := step.RetryCount + 1
		stepCopy := step.Clone()
		wfCtx := instance.Context.Clone()

		e.mu.Unlock()

		e.persistStepStatus(instanceID, step.ID, models.StepStatusInProgress)
		e.publish(e.ctx, instanceID, events.StepStarted{
			BaseEvent: stepEvent(events.StepStartedEvent, instanceID, step.ID),
			StepType:  step.Type,
			Attempt:   attempt,
		})

		result, err := e.invoke(handler, stepCopy, wfCtx)

		if err != nil && e.ctx.Err() != nil {
			// Engine shutting down; leave the instance as persisted.
			return
		}

		e.mu.Lock()

		instance, ok = e.instances[instanceID]
		if !ok || instance.Status != models.WorkflowStatusActive ||
			e.runGen[instanceID] != gen || instance.CurrentStepID != step.ID {
			// The workflow was paused, cancelled, or redirected while the
			// handler ran. Late result, discard.
			e.mu.Unlock()
			e.logger.Debug("Discarding late step result",
				"instance_id", instanceID, "step_id", step.ID)

			return
		}

		current, _ := instance.StepByID(step.ID)

		if err == nil && result != nil && result.Success {
			if done := e.applySuccessLocked(instance, current, result, wfCtx); done {
				return
			}

			continue // applySuccessLocked released the lock
		}

		if retrying := e.applyFailureLocked(instance, current, result, err); !retrying {
			return
		}

		// Retry path: fixed delay, then re-enter on the same step.
		select {
		case <-time.After(e.cfg.retryDelay):
		case <-e.ctx.Done():
			return
		}
	}
}

// invoke races the handler against the step's timeout. The handler goroutine
// cannot be aborted once dispatched; on timeout the engine merely stops
// waiting, and any external work keeps running unobserved.
func (e *Engine) invoke(handler protocol.StepHandler, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error) {
	hctx := e.ctx

	var cancel context.CancelFunc
	if step.Timeout > 0 {
		hctx, cancel = context.WithTimeout(e.ctx, step.Timeout)
		defer cancel()
	}

	type outcome struct {
		result *models.StepResult
		err    error
	}

	resultCh := make(chan outcome, 1)

	go func() {
		spanCtx := hctx

		var span trace.Span

		if e.cfg.tracer != nil {
			spanCtx, span = otelhelper.StartSpan(hctx, e.cfg.tracer, "workflow.step",
				attribute.String(otelhelper.StepIDKey, step.ID),
				attribute.String(otelhelper.StepTypeKey, string(step.Type)),
				attribute.Int(otelhelper.AttemptKey, step.RetryCount+1),
			)

			defer span.End()
		}

		result, err := handler.Handle(spanCtx, step, wfCtx)
		if err != nil && span != nil {
			otelhelper.SetError(span, err)
		}

		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case out := <-resultCh:
		return out.result, out.err
	case <-hctx.Done():
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("step %s after %s: %w", step.ID, step.Timeout, ErrStepTimeout)
		}

		return nil, hctx.Err()
	}
}

// applySuccessLocked records a successful result and picks the next step.
// Returns true when the run loop should stop (workflow finished or step
// parked awaiting external completion). Called with e.mu held, always
// returns with it released.
func (e *Engine) applySuccessLocked(instance *models.WorkflowInstance, step *models.WorkflowStep, result *models.StepResult, wfCtx *models.WorkflowContext) bool {
	instanceID := instance.ID

	// Fold artifacts the handler appended back into the engine-owned context.
	instance.Context.Artifacts = wfCtx.Artifacts
	e.recordArtifactsLocked(instance)

	if result.AwaitingCompletion() {
		step.Status = models.StepStatusPaused
		step.Result = result
		instance.UpdatedAt = time.Now().UTC()
		stepID := step.ID
		stepType := step.Type
		message := result.Message

		e.mu.Unlock()

		e.persistStepStatus(instanceID, stepID, models.StepStatusPaused)
		e.publish(e.ctx, instanceID, events.StepPaused{
			BaseEvent: stepEvent(events.StepPausedEvent, instanceID, stepID),
			StepType:  stepType,
			Reason:    message,
		})

		return true
	}

	now := time.Now().UTC()
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &now
	step.Result = result
	instance.UpdatedAt = now
	stepID := step.ID
	stepType := step.Type

	next, hasNext := instance.NextDependentStep(stepID)
	if hasNext {
		instance.CurrentStepID = next.ID
	}

	var completion events.Event

	if !hasNext {
		completion = e.completeWorkflowLocked(instance)
	}

	snapshot := instance.Clone()

	e.mu.Unlock()

	e.persistInstance(snapshot)
	e.publish(e.ctx, instanceID, events.StepCompleted{
		BaseEvent: stepEvent(events.StepCompletedEvent, instanceID, stepID),
		StepType:  stepType,
		Result:    result,
	})

	if completion != nil {
		e.publish(e.ctx, instanceID, completion)
		e.logger.Info("Workflow completed", "instance_id", instanceID)

		return true
	}

	return false
}

// applyFailureLocked runs the retry policy for a failed attempt. Returns true
// when the step was reset for retry (loop continues), false when the workflow
// terminated. Releases e.mu in both cases.
func (e *Engine) applyFailureLocked(instance *models.WorkflowInstance, step *models.WorkflowStep, result *models.StepResult, err error) bool {
	instanceID := instance.ID
	now := time.Now().UTC()

	stepErr := &models.StepError{
		StepID:    step.ID,
		Code:      codeStepExecution,
		Retryable: true,
		Timestamp: now,
	}

	switch {
	case err != nil && errors.Is(err, ErrStepTimeout):
		stepErr.Code = codeStepTimeout
		stepErr.Message = err.Error()
	case err != nil:
		stepErr.Message = err.Error()
	case result != nil:
		if step.Type == models.StepTypeUserAction {
			stepErr.Code = codeUserActionRejected
		}

		stepErr.Message = result.Message
		if stepErr.Message == "" {
			stepErr.Message = "handler reported failure"
		}
	default:
		stepErr.Message = "handler returned no result"
	}

	step.RetryCount++
	step.Error = stepErr
	instance.UpdatedAt = now

	if step.RetryCount <= step.MaxRetries {
		step.Status = models.StepStatusPending
		stepID := step.ID
		stepType := step.Type
		retryCount := step.RetryCount

		e.mu.Unlock()

		e.persistStepStatus(instanceID, stepID, models.StepStatusPending)
		e.publish(e.ctx, instanceID, events.StepFailed{
			BaseEvent:  stepEvent(events.StepFailedEvent, instanceID, stepID),
			StepType:   stepType,
			Error:      stepErr,
			RetryCount: retryCount,
			WillRetry:  true,
		})

		e.logger.Warn("Step failed, retrying",
			"instance_id", instanceID, "step_id", stepID,
			"retry", retryCount, "max_retries", step.MaxRetries)

		return true
	}

	step.Status = models.StepStatusFailed
	step.CompletedAt = &now
	stepID := step.ID
	stepType := step.Type
	retryCount := step.RetryCount

	e.failWorkflowLocked(instance, &models.WorkflowError{
		StepID:   stepID,
		Code:     codeMaxRetriesExceeded,
		Message:  fmt.Sprintf("step %s exhausted %d retries: %s", stepID, step.MaxRetries, stepErr.Message),
		FailedAt: now,
	}, events.StepFailed{
		BaseEvent:  stepEvent(events.StepFailedEvent, instanceID, stepID),
		StepType:   stepType,
		Error:      stepErr,
		RetryCount: retryCount,
		WillRetry:  false,
	})

	return false
}

// completeWorkflowLocked moves the instance to completed and builds the
// completion event. Caller still holds e.mu and is responsible for publishing.
func (e *Engine) completeWorkflowLocked(instance *models.WorkflowInstance) events.Event {
	now := time.Now().UTC()

	instance.Status = models.WorkflowStatusCompleted
	instance.CompletedAt = &now
	instance.UpdatedAt = now
	instance.Result = &models.WorkflowResult{
		Summary:     instance.CompletedStepIDs(),
		Data:        instance.Metadata,
		CompletedAt: now,
	}

	return events.WorkflowCompleted{
		BaseEvent:  events.NewBaseEvent(events.WorkflowCompletedEvent, instance.ID),
		Result:     instance.Result,
		DurationMs: now.Sub(instance.CreatedAt).Milliseconds(),
	}
}

// failWorkflowLocked terminates the instance with the given error, persists,
// and emits step-level extras (if any) followed by workflow_failed. Releases
// e.mu.
func (e *Engine) failWorkflowLocked(instance *models.WorkflowInstance, wfErr *models.WorkflowError, extras ...events.Event) {
	now := time.Now().UTC()

	instance.Status = models.WorkflowStatusFailed
	instance.Error = wfErr
	instance.CompletedAt = &now
	instance.UpdatedAt = now
	instanceID := instance.ID
	snapshot := instance.Clone()
	duration := now.Sub(instance.CreatedAt).Milliseconds()

	e.mu.Unlock()

	e.persistInstance(snapshot)

	for _, extra := range extras {
		e.publish(e.ctx, instanceID, extra)
	}

	e.publish(e.ctx, instanceID, events.WorkflowFailed{
		BaseEvent:  events.NewBaseEvent(events.WorkflowFailedEvent, instanceID),
		Error:      wfErr,
		DurationMs: duration,
	})

	e.logger.Error("Workflow failed",
		"instance_id", instanceID, "code", wfErr.Code, "step_id", wfErr.StepID)
}

// advanceLocked picks the follow-up of an already-completed current step.
// Called with e.mu held. Returns true with the lock still held when a next
// step was selected, false with the lock released when the workflow finished.
func (e *Engine) advanceLocked(instance *models.WorkflowInstance, completedID string) bool {
	next, ok := instance.NextDependentStep(completedID)
	if ok {
		instance.CurrentStepID = next.ID

		return true
	}

	instanceID := instance.ID
	completion := e.completeWorkflowLocked(instance)
	snapshot := instance.Clone()

	e.mu.Unlock()

	e.persistInstance(snapshot)
	e.publish(e.ctx, instanceID, completion)

	return false
}

// CompleteUserAction supplies the real outcome of a user_action step that the
// engine parked awaiting external completion. A successful outcome completes
// the step and resumes advancement; a failed outcome runs the normal retry
// policy.
func (e *Engine) CompleteUserAction(ctx context.Context, id, stepID string, outcome *models.StepResult) error {
	e.mu.Lock()

	instance, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()

		return newLifecycleError("CompleteUserAction", id, ErrNotFound)
	}

	if instance.Status != models.WorkflowStatusActive {
		e.mu.Unlock()

		return newLifecycleError("CompleteUserAction", id, ErrInvalidStateTransition)
	}

	step, ok := instance.StepByID(stepID)
	if !ok {
		e.mu.Unlock()

		return newLifecycleError("CompleteUserAction", id, ErrStepNotFound)
	}

	if step.Type != models.StepTypeUserAction || step.Status != models.StepStatusPaused {
		e.mu.Unlock()

		return newLifecycleError("CompleteUserAction", id, ErrInvalidStateTransition)
	}

	if outcome == nil {
		outcome = &models.StepResult{Type: models.StepTypeUserAction, Success: true}
	}

	e.runGen[id]++

	if !outcome.Success {
		// Route the rejection through the retry policy like any failure.
		step.Status = models.StepStatusInProgress
		retrying := e.applyFailureLocked(instance, step, outcome, nil)

		if retrying {
			e.dispatch(id)
		}

		return nil
	}

	if done := e.applySuccessLocked(instance, step, outcome, instance.Context.Clone()); !done {
		e.dispatch(id)
	}

	e.logger.InfoContext(ctx, "User action completed",
		"instance_id", id, "step_id", stepID, "success", outcome.Success)

	return nil
}

func (e *Engine) recordArtifactsLocked(instance *models.WorkflowInstance) {
	if len(instance.Context.Artifacts) == 0 {
		return
	}

	ids := make([]string, len(instance.Context.Artifacts))
	for i, artifact := range instance.Context.Artifacts {
		ids[i] = artifact.ID
	}

	if instance.Metadata == nil {
		instance.Metadata = make(map[string]any)
	}

	instance.Metadata["artifacts"] = ids
}

func (e *Engine) persistInstance(snapshot *models.WorkflowInstance) {
	if err := e.store.Save(e.ctx, snapshot); err != nil {
		e.logger.Error("Failed to persist instance",
			"instance_id", snapshot.ID, "error", err)
	}
}

func (e *Engine) persistStepStatus(instanceID, stepID string, status models.StepStatus) {
	err := e.store.UpdateStepStatus(e.ctx, instanceID, stepID, status)
	if err != nil {
		e.logger.Error("Failed to persist step status",
			"instance_id", instanceID, "step_id", stepID, "error", err)
	}
}

func stepEvent(eventType events.EventType, instanceID, stepID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, instanceID)
	base.StepID = stepID

	return base
}
