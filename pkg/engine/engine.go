// Package engine implements the workflow runtime: it instantiates registered
// definitions, drives dependency-ordered step execution with timeouts and
// bounded retries, and fans lifecycle events out after every transition.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/inboxpilot/conduit/pkg/eventbus"
	"github.com/inboxpilot/conduit/pkg/events"
	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/registry"
	"github.com/inboxpilot/conduit/pkg/store"
)

// Engine is the workflow runtime. Construct one per embedding process (or per
// test); there is no package-level instance. The engine exclusively owns the
// instance records it runs — callers only ever see clones.
type Engine struct {
	definitions *registry.DefinitionRegistry
	handlers    *registry.HandlerRegistry
	store       store.InstanceStore
	bus         eventbus.EventBus
	logger      *slog.Logger
	cfg         config

	mu        sync.Mutex
	instances map[string]*models.WorkflowInstance

	// runGen invalidates in-flight handler results: every pause, cancel, and
	// resume bumps the instance's generation, and a result is only applied
	// when the generation it was dispatched under still matches.
	runGen map[string]uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	janitor *cron.Cron
}

// NewEngine builds the runtime around its injected collaborators.
func NewEngine(
	definitions *registry.DefinitionRegistry,
	handlers *registry.HandlerRegistry,
	instanceStore store.InstanceStore,
	bus eventbus.EventBus,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	cfg := config{
		maxConcurrentWorkflows: defaultMaxConcurrentWorkflows,
		retryDelay:             defaultRetryDelay,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		definitions: definitions,
		handlers:    handlers,
		store:       instanceStore,
		bus:         bus,
		logger:      logger,
		cfg:         cfg,
		instances:   make(map[string]*models.WorkflowInstance),
		runGen:      make(map[string]uint64),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.cleanupSchedule != "" {
		e.janitor = cron.New()

		_, err := e.janitor.AddFunc(cfg.cleanupSchedule, func() {
			deleted, err := e.CleanupOlderThan(e.ctx, cfg.cleanupMaxAge)
			if err != nil {
				e.logger.Error("Instance cleanup failed", "error", err)

				return
			}

			if deleted > 0 {
				e.logger.Info("Cleaned up terminal instances", "deleted", deleted)
			}
		})
		if err != nil {
			e.logger.Error("Invalid cleanup schedule; janitor disabled",
				"schedule", cfg.cleanupSchedule, "error", err)
			e.janitor = nil
		} else {
			e.janitor.Start()
		}
	}

	return e
}

// StartWorkflow instantiates the definition and schedules execution without
// blocking. The returned instance reflects only the just-created state.
func (e *Engine) StartWorkflow(ctx context.Context, definitionID string, wfCtx *models.WorkflowContext) (*models.WorkflowInstance, error) {
	def, err := e.definitions.Get(definitionID)
	if err != nil {
		return nil, newLifecycleError("StartWorkflow", definitionID, ErrNotFound)
	}

	e.mu.Lock()

	if e.activeCountLocked() >= e.cfg.maxConcurrentWorkflows {
		e.mu.Unlock()

		return nil, newLifecycleError("StartWorkflow", definitionID, ErrResourceExhausted)
	}

	instance := models.NewWorkflowInstance(def, wfCtx)
	e.instances[instance.ID] = instance
	e.runGen[instance.ID] = 1
	snapshot := instance.Clone()

	e.mu.Unlock()

	if err := e.store.Save(ctx, snapshot); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist new instance",
			"instance_id", instance.ID, "error", err)
	}

	started := events.WorkflowStarted{
		BaseEvent:    events.NewBaseEvent(events.WorkflowStartedEvent, instance.ID),
		DefinitionID: definitionID,
		UserID:       snapshot.UserID,
		EntryStepID:  snapshot.CurrentStepID,
	}
	e.publish(ctx, instance.ID, started)

	e.logger.InfoContext(ctx, "Workflow started",
		"instance_id", instance.ID, "definition_id", definitionID)

	e.dispatch(instance.ID)

	return snapshot, nil
}

// PauseWorkflow moves an active instance to paused. Takes effect at the next
// step boundary: an in-flight handler keeps running, but its result is
// discarded instead of advancing the paused workflow.
func (e *Engine) PauseWorkflow(ctx context.Context, id string) error {
	e.mu.Lock()

	instance, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()

		return newLifecycleError("PauseWorkflow", id, ErrNotFound)
	}

	if instance.Status != models.WorkflowStatusActive {
		e.mu.Unlock()

		return newLifecycleError("PauseWorkflow", id, ErrInvalidStateTransition)
	}

	instance.Status = models.WorkflowStatusPaused
	instance.UpdatedAt = time.Now().UTC()
	e.runGen[id]++
	pausedAt := instance.CurrentStepID

	e.mu.Unlock()

	if err := e.store.UpdateStatus(ctx, id, models.WorkflowStatusPaused); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist pause", "instance_id", id, "error", err)
	}

	event := events.WorkflowPaused{
		BaseEvent:    events.NewBaseEvent(events.WorkflowPausedEvent, id),
		PausedAtStep: pausedAt,
	}
	e.publish(ctx, id, event)

	e.logger.InfoContext(ctx, "Workflow paused", "instance_id", id, "step_id", pausedAt)

	return nil
}

// ResumeWorkflow moves a paused instance back to active and resumes execution
// from its current step, subject to the concurrency bound.
func (e *Engine) ResumeWorkflow(ctx context.Context, id string) error {
	e.mu.Lock()

	instance, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()

		return newLifecycleError("ResumeWorkflow", id, ErrNotFound)
	}

	if instance.Status != models.WorkflowStatusPaused {
		e.mu.Unlock()

		return newLifecycleError("ResumeWorkflow", id, ErrInvalidStateTransition)
	}

	if e.activeCountLocked() >= e.cfg.maxConcurrentWorkflows {
		e.mu.Unlock()

		return newLifecycleError("ResumeWorkflow", id, ErrResourceExhausted)
	}

	instance.Status = models.WorkflowStatusActive
	instance.UpdatedAt = time.Now().UTC()
	e.runGen[id]++
	resumedAt := instance.CurrentStepID

	var stepType models.StepType
	if step, ok := instance.StepByID(resumedAt); ok {
		stepType = step.Type
	}

	e.mu.Unlock()

	if err := e.store.UpdateStatus(ctx, id, models.WorkflowStatusActive); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist resume", "instance_id", id, "error", err)
	}

	event := events.WorkflowResumed{
		BaseEvent:     events.NewBaseEvent(events.WorkflowResumedEvent, id),
		ResumedAtStep: resumedAt,
	}
	e.publish(ctx, id, event)
	e.publish(ctx, id, events.StepResumed{
		BaseEvent: stepEvent(events.StepResumedEvent, id, resumedAt),
		StepType:  stepType,
	})

	e.logger.InfoContext(ctx, "Workflow resumed", "instance_id", id, "step_id", resumedAt)

	e.dispatch(id)

	return nil
}

// CancelWorkflow terminates an active or paused instance immediately. Work
// already dispatched to a handler is not retracted; its eventual result is
// dropped.
func (e *Engine) CancelWorkflow(ctx context.Context, id string) error {
	e.mu.Lock()

	instance, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()

		return newLifecycleError("CancelWorkflow", id, ErrNotFound)
	}

	if !instance.Status.CanTransition(models.WorkflowStatusCancelled) {
		e.mu.Unlock()

		return newLifecycleError("CancelWorkflow", id, ErrInvalidStateTransition)
	}

	now := time.Now().UTC()
	instance.Status = models.WorkflowStatusCancelled
	instance.UpdatedAt = now
	instance.CompletedAt = &now
	e.runGen[id]++
	cancelledAt := instance.CurrentStepID

	e.mu.Unlock()

	if err := e.store.UpdateStatus(ctx, id, models.WorkflowStatusCancelled); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist cancel", "instance_id", id, "error", err)
	}

	event := events.WorkflowCancelled{
		BaseEvent:       events.NewBaseEvent(events.WorkflowCancelledEvent, id),
		CancelledAtStep: cancelledAt,
	}
	e.publish(ctx, id, event)

	e.logger.InfoContext(ctx, "Workflow cancelled", "instance_id", id)

	return nil
}

// Instance returns a snapshot clone of the instance.
func (e *Engine) Instance(_ context.Context, id string) (*models.WorkflowInstance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	instance, ok := e.instances[id]
	if !ok {
		return nil, newLifecycleError("Instance", id, ErrNotFound)
	}

	return instance.Clone(), nil
}

// InstancesForUser lists persisted instances owned by userID.
func (e *Engine) InstancesForUser(ctx context.Context, userID string) ([]*models.WorkflowInstance, error) {
	return e.store.LoadForUser(ctx, userID)
}

// ActiveCount reports how many instances are currently active.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.activeCountLocked()
}

// CleanupOlderThan removes terminal instances older than maxAge from memory
// and from the store, returning the store's deletion count.
func (e *Engine) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	e.mu.Lock()

	for id, instance := range e.instances {
		if instance.Status.Terminal() && instance.UpdatedAt.Before(cutoff) {
			delete(e.instances, id)
			delete(e.runGen, id)
		}
	}

	e.mu.Unlock()

	return e.store.DeleteOlderThan(ctx, maxAge)
}

// Shutdown stops the janitor, cancels outstanding run loops, and waits for
// them to drain or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	if e.janitor != nil {
		e.janitor.Stop()
	}

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) activeCountLocked() int {
	count := 0

	for _, instance := range e.instances {
		if instance.Status == models.WorkflowStatusActive {
			count++
		}
	}

	return count
}

func (e *Engine) publish(ctx context.Context, key string, event events.Event) {
	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "instance_id", key, "error", err)
	}
}
