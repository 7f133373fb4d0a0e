package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/inboxpilot/conduit/pkg/models"
)

// UserActionHandler acknowledges that the step was handed to the user. The
// result is flagged awaiting-completion: the engine parks the step until
// Engine.CompleteUserAction supplies the real outcome, it never auto-advances.
type UserActionHandler struct{}

func (h *UserActionHandler) Handle(_ context.Context, step *models.WorkflowStep, _ *models.WorkflowContext) (*models.StepResult, error) {
	cfg := step.Config.UserAction
	if cfg == nil {
		return nil, fmt.Errorf("user_action: %w", ErrConfigMissing)
	}

	return &models.StepResult{
		Type:    models.StepTypeUserAction,
		Success: true,
		Message: cfg.Instruction,
		Data: map[string]any{
			"instruction": cfg.Instruction,
			"action_url":  cfg.ActionURL,
		},
		Metadata: map[string]any{
			models.MetadataAwaitingCompletion: true,
		},
	}, nil
}

// WaitHandler sleeps for the configured duration, aborting early when the
// step context is cancelled (timeout, pause takes effect afterwards, or
// engine shutdown).
type WaitHandler struct{}

func (h *WaitHandler) Handle(ctx context.Context, step *models.WorkflowStep, _ *models.WorkflowContext) (*models.StepResult, error) {
	cfg := step.Config.Wait
	if cfg == nil {
		return nil, fmt.Errorf("wait: %w", ErrConfigMissing)
	}

	duration := time.Duration(cfg.DurationMs) * time.Millisecond

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return successResult(models.StepTypeWait, map[string]any{
		"waited_ms": cfg.DurationMs,
	}), nil
}

// ContextCheckHandler asserts required keys (and optional expected values)
// against the instance's context snapshot. A failed assertion fails the step.
type ContextCheckHandler struct{}

func (h *ContextCheckHandler) Handle(_ context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error) {
	cfg := step.Config.ContextCheck
	if cfg == nil {
		return nil, fmt.Errorf("context_check: %w", ErrConfigMissing)
	}

	missing := make([]string, 0)

	for _, key := range cfg.RequiredKeys {
		if _, ok := wfCtx.Snapshot[key]; !ok {
			missing = append(missing, key)
		}
	}

	mismatched := make([]string, 0)

	for key, expected := range cfg.Expected {
		actual, ok := wfCtx.Snapshot[key]
		if !ok {
			missing = append(missing, key)

			continue
		}

		if actual != expected {
			mismatched = append(mismatched, key)
		}
	}

	if len(missing) > 0 || len(mismatched) > 0 {
		return &models.StepResult{
			Type:    models.StepTypeContextCheck,
			Success: false,
			Message: fmt.Sprintf("context check failed: %d missing, %d mismatched keys",
				len(missing), len(mismatched)),
			Data: map[string]any{
				"missing":    missing,
				"mismatched": mismatched,
			},
		}, nil
	}

	return successResult(models.StepTypeContextCheck, map[string]any{
		"checked_keys": len(cfg.RequiredKeys) + len(cfg.Expected),
	}), nil
}
