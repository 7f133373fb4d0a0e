// Package web provides the REST endpoints for starting, steering and
// observing workflow instances.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/inboxpilot/conduit/pkg/engine"
	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/registry"
	"github.com/inboxpilot/conduit/pkg/store"
)

type APIHandlers struct {
	engine      *engine.Engine
	definitions *registry.DefinitionRegistry
	store       store.InstanceStore
	validator   *validator.Validate
}

func NewAPIHandlers(
	eng *engine.Engine,
	definitions *registry.DefinitionRegistry,
	instanceStore store.InstanceStore,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:      eng,
		definitions: definitions,
		store:       instanceStore,
		validator:   validate,
	}
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"definitions": h.definitions.List(),
	})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	def, err := h.definitions.Get(id)
	if err != nil {
		return notFound(c, "Workflow definition not found")
	}

	return c.JSON(def)
}

// SuggestDefinitions returns context-matching definitions ordered by
// priority, then estimated time.
func (h *APIHandlers) SuggestDefinitions(c fiber.Ctx) error {
	var req SuggestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	return c.JSON(fiber.Map{
		"definitions": h.definitions.Suggest(req.Context),
	})
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	var req StartWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wfCtx := &models.WorkflowContext{
		UserID:   req.UserID,
		Snapshot: req.Context,
	}

	instance, err := h.engine.StartWorkflow(c.Context(), req.DefinitionID, wfCtx)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow instance ID is required")
	}

	instance, err := h.engine.Instance(c.Context(), id)
	if err == nil {
		return c.JSON(instance)
	}

	if !engine.IsNotFound(err) {
		return internalError(c, err)
	}

	// Not resident in the engine; fall back to the store for instances from
	// earlier runs.
	instance, storeErr := h.store.Load(c.Context(), id)
	if storeErr != nil {
		if store.IsInstanceNotFound(storeErr) {
			return notFound(c, "Workflow instance not found")
		}

		return internalError(c, storeErr)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	instances, err := h.engine.InstancesForUser(c.Context(), userID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances": instances,
		"count":     len(instances),
	})
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow instance ID is required")
	}

	if err := h.engine.PauseWorkflow(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return h.GetWorkflow(c)
}

func (h *APIHandlers) ResumeWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow instance ID is required")
	}

	if err := h.engine.ResumeWorkflow(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return h.GetWorkflow(c)
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow instance ID is required")
	}

	if err := h.engine.CancelWorkflow(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return h.GetWorkflow(c)
}

// CompleteStep supplies the outcome of a parked user_action step.
func (h *APIHandlers) CompleteStep(c fiber.Ctx) error {
	id := c.Params("id")
	stepID := c.Params("stepId")

	if id == "" || stepID == "" {
		return badRequest(c, "Workflow instance ID and step ID are required")
	}

	var req CompleteStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	outcome := &models.StepResult{
		Type:    models.StepTypeUserAction,
		Success: success,
		Message: req.Message,
		Data:    req.Data,
	}

	if err := h.engine.CompleteUserAction(c.Context(), id, stepID, outcome); err != nil {
		return handleEngineError(c, err)
	}

	return h.GetWorkflow(c)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.store.HealthCheck(c.Context())

	status := "healthy"
	message := "Conduit API is healthy"
	httpStatus := http.StatusOK

	if storeErr != nil {
		status = "unhealthy"
		message = "Conduit API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":           status,
		"message":          message,
		"active_workflows": h.engine.ActiveCount(),
		"timestamp":        time.Now().UTC(),
	})
}
