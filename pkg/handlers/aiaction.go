package handlers

import (
	"context"
	"fmt"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
)

// AIActionHandler runs a model-backed action through the injected
// intelligence capability.
type AIActionHandler struct {
	Intelligence protocol.Intelligence
}

func (h *AIActionHandler) Handle(ctx context.Context, step *models.WorkflowStep, _ *models.WorkflowContext) (*models.StepResult, error) {
	if h.Intelligence == nil {
		return nil, fmt.Errorf("ai_action: %w", ErrCapabilityMissing)
	}

	cfg := step.Config.AIAction
	if cfg == nil {
		return nil, fmt.Errorf("ai_action: %w", ErrConfigMissing)
	}

	output, err := h.Intelligence.Run(ctx, cfg.Action, cfg.Prompt, cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("ai action %q failed: %w", cfg.Action, err)
	}

	return successResult(models.StepTypeAIAction, output), nil
}
