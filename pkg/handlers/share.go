package handlers

import (
	"context"
	"fmt"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
)

// SmartShareHandler publishes a previously produced artifact through the
// injected share publisher.
type SmartShareHandler struct {
	Publisher protocol.SharePublisher
}

func (h *SmartShareHandler) Handle(ctx context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error) {
	if h.Publisher == nil {
		return nil, fmt.Errorf("smart_share: %w", ErrCapabilityMissing)
	}

	cfg := step.Config.SmartShare
	if cfg == nil {
		return nil, fmt.Errorf("smart_share: %w", ErrConfigMissing)
	}

	var artifact models.Artifact

	if cfg.ArtifactID != "" {
		found, ok := wfCtx.ArtifactByID(cfg.ArtifactID)
		if !ok {
			return nil, fmt.Errorf("smart_share: artifact %q not found in context", cfg.ArtifactID)
		}

		artifact = found
	} else if n := len(wfCtx.Artifacts); n > 0 {
		// No explicit reference: share the most recent artifact.
		artifact = wfCtx.Artifacts[n-1]
	} else {
		return nil, fmt.Errorf("smart_share: no artifact available to share")
	}

	shared, err := h.Publisher.Share(ctx, cfg.Channel, cfg.Recipients, artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to share artifact %q on %s: %w", artifact.ID, cfg.Channel, err)
	}

	wfCtx.AddArtifact(shared)

	return successResult(models.StepTypeSmartShare, map[string]any{
		"channel":     cfg.Channel,
		"artifact_id": artifact.ID,
		"share_id":    shared.ID,
	}), nil
}
