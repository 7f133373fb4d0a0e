// Package handlers provides the built-in step handlers. Each one is a thin
// adapter over an injected capability interface from pkg/protocol; nothing in
// here simulates results.
package handlers

import (
	"errors"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
	"github.com/inboxpilot/conduit/pkg/registry"
)

// ErrCapabilityMissing indicates a handler was invoked without its backing
// capability injected.
var ErrCapabilityMissing = errors.New("required capability not configured")

// ErrConfigMissing indicates a step reached a handler without the config
// variant its type requires.
var ErrConfigMissing = errors.New("step config variant missing")

// RegisterBuiltins binds every built-in handler to its step type.
func RegisterBuiltins(reg *registry.HandlerRegistry, caps protocol.Capabilities) {
	reg.Register(models.StepTypeDocumentGeneration, &DocumentGenerationHandler{Documents: caps.Documents})
	reg.Register(models.StepTypeEmailSend, &EmailSendHandler{Mailer: caps.Mailer})
	reg.Register(models.StepTypeProviderVerification, &ProviderVerificationHandler{Verifier: caps.Verifier})
	reg.Register(models.StepTypeDeliverabilityFix, &DeliverabilityFixHandler{Fixer: caps.Deliverability})
	reg.Register(models.StepTypeSmartShare, &SmartShareHandler{Publisher: caps.Share})
	reg.Register(models.StepTypeAIAction, &AIActionHandler{Intelligence: caps.Intelligence})
	reg.Register(models.StepTypeUserAction, &UserActionHandler{})
	reg.Register(models.StepTypeWait, &WaitHandler{})
	reg.Register(models.StepTypeContextCheck, &ContextCheckHandler{})
}

func successResult(stepType models.StepType, data map[string]any) *models.StepResult {
	return &models.StepResult{
		Type:    stepType,
		Data:    data,
		Success: true,
	}
}
