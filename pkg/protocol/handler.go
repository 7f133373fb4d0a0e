// Package protocol defines the boundary interfaces between the engine and
// its injected collaborators: step handlers and the capabilities they adapt.
package protocol

import (
	"context"

	"github.com/inboxpilot/conduit/pkg/models"
)

// StepHandler executes one step type. Handlers receive the step (with its
// config variant) and the shared workflow context; they may append artifacts
// to the context but must not touch instance state. The engine enforces the
// step timeout externally, so handlers should honor ctx cancellation to stop
// early, and must never block indefinitely on their own account.
type StepHandler interface {
	Handle(ctx context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error)
}

// StepHandlerFunc adapts a function to StepHandler.
type StepHandlerFunc func(ctx context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error)

func (f StepHandlerFunc) Handle(ctx context.Context, step *models.WorkflowStep, wfCtx *models.WorkflowContext) (*models.StepResult, error) {
	return f(ctx, step, wfCtx)
}
