package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
)

// ProviderVerificationHandler checks a domain's sending setup through the
// injected verifier. A failed check is a failed step: the report's issues
// feed a later deliverability_fix step through the report artifact.
type ProviderVerificationHandler struct {
	Verifier protocol.ProviderVerifier
}

func (h *ProviderVerificationHandler) Handle(ctx context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error) {
	if h.Verifier == nil {
		return nil, fmt.Errorf("provider_verification: %w", ErrCapabilityMissing)
	}

	cfg := step.Config.ProviderVerification
	if cfg == nil {
		return nil, fmt.Errorf("provider_verification: %w", ErrConfigMissing)
	}

	report, err := h.Verifier.Verify(ctx, cfg.Domain, cfg.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to verify domain %q: %w", cfg.Domain, err)
	}

	wfCtx.AddArtifact(models.Artifact{
		ID:   "verification-" + uuid.New().String()[:8],
		Type: "verification_report",
		Name: cfg.Domain,
		Data: map[string]any{
			"passed": report.Passed,
			"issues": report.Issues,
		},
	})

	result := successResult(models.StepTypeProviderVerification, map[string]any{
		"domain": report.Domain,
		"passed": report.Passed,
		"issues": report.Issues,
	})
	result.Success = report.Passed

	if !report.Passed {
		result.Message = fmt.Sprintf("domain %s failed verification (%d issues)",
			report.Domain, len(report.Issues))
	}

	return result, nil
}
