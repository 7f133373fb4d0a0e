package handlers

import (
	"context"
	"fmt"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
)

// DocumentGenerationHandler renders a document through the injected generator
// and appends it to the context artifacts so later steps (email_send,
// smart_share) can reference it by id.
type DocumentGenerationHandler struct {
	Documents protocol.DocumentGenerator
}

func (h *DocumentGenerationHandler) Handle(ctx context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error) {
	if h.Documents == nil {
		return nil, fmt.Errorf("document_generation: %w", ErrCapabilityMissing)
	}

	cfg := step.Config.DocumentGeneration
	if cfg == nil {
		return nil, fmt.Errorf("document_generation: %w", ErrConfigMissing)
	}

	artifact, err := h.Documents.Generate(ctx, cfg.Template, cfg.Format, cfg.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to generate document from template %q: %w", cfg.Template, err)
	}

	wfCtx.AddArtifact(artifact)

	return successResult(models.StepTypeDocumentGeneration, map[string]any{
		"artifact_id": artifact.ID,
		"template":    cfg.Template,
	}), nil
}
