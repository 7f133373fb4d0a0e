package handlers

import (
	"context"
	"fmt"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
)

// EmailSendHandler sends a message through the injected mailer. When the
// config references a body artifact, the artifact must already exist in the
// context (produced by an earlier document_generation step).
type EmailSendHandler struct {
	Mailer protocol.Mailer
}

func (h *EmailSendHandler) Handle(ctx context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error) {
	if h.Mailer == nil {
		return nil, fmt.Errorf("email_send: %w", ErrCapabilityMissing)
	}

	cfg := step.Config.EmailSend
	if cfg == nil {
		return nil, fmt.Errorf("email_send: %w", ErrConfigMissing)
	}

	body := ""

	if cfg.BodyRef != "" {
		artifact, ok := wfCtx.ArtifactByID(cfg.BodyRef)
		if !ok {
			return nil, fmt.Errorf("email_send: body artifact %q not found in context", cfg.BodyRef)
		}

		body, _ = artifact.Data["content"].(string)
	}

	receipt, err := h.Mailer.Send(ctx, cfg.To, cfg.Subject, body, cfg.TrackOpens)
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	wfCtx.AddArtifact(receipt)

	return successResult(models.StepTypeEmailSend, map[string]any{
		"receipt_id": receipt.ID,
		"recipients": len(cfg.To),
	}), nil
}
