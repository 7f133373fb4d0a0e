package handlers

import (
	"context"
	"fmt"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
)

// DeliverabilityFixHandler applies a remediation through the injected fixer.
type DeliverabilityFixHandler struct {
	Fixer protocol.DeliverabilityFixer
}

func (h *DeliverabilityFixHandler) Handle(ctx context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error) {
	if h.Fixer == nil {
		return nil, fmt.Errorf("deliverability_fix: %w", ErrCapabilityMissing)
	}

	cfg := step.Config.DeliverabilityFix
	if cfg == nil {
		return nil, fmt.Errorf("deliverability_fix: %w", ErrConfigMissing)
	}

	artifact, err := h.Fixer.Fix(ctx, cfg.Issue, cfg.Provider, cfg.AutoFix)
	if err != nil {
		return nil, fmt.Errorf("failed to fix deliverability issue %q: %w", cfg.Issue, err)
	}

	wfCtx.AddArtifact(artifact)

	return successResult(models.StepTypeDeliverabilityFix, map[string]any{
		"issue":       cfg.Issue,
		"auto_fix":    cfg.AutoFix,
		"artifact_id": artifact.ID,
	}), nil
}
