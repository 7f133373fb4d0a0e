package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
)

// ErrHandlerNotRegistered indicates a step type has no handler. Hitting it at
// execution time is a configuration error of the embedding process, so the
// engine treats it as fatal for the instance.
var ErrHandlerNotRegistered = errors.New("step handler not registered")

// HandlerRegistry maps step types to their executors.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[models.StepType]protocol.StepHandler
}

// NewHandlerRegistry returns an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[models.StepType]protocol.StepHandler),
	}
}

// Register binds a handler to a step type, replacing any previous binding.
func (r *HandlerRegistry) Register(stepType models.StepType, handler protocol.StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[stepType] = handler
}

// RegisterFunc binds a plain function as the handler for a step type.
func (r *HandlerRegistry) RegisterFunc(stepType models.StepType, fn protocol.StepHandlerFunc) {
	r.Register(stepType, fn)
}

// Get resolves the handler for a step type.
func (r *HandlerRegistry) Get(stepType models.StepType) (protocol.StepHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("step type %q: %w", stepType, ErrHandlerNotRegistered)
	}

	return handler, nil
}

// Types returns the registered step types.
func (r *HandlerRegistry) Types() []models.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.StepType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}

	return types
}
