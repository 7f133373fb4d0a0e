// Package memory provides the in-memory InstanceStore used for tests and
// development. Safe for concurrent access.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/store"
)

var _ store.InstanceStore = (*Store)(nil)

// Store keeps instance records behind a mutex. Records are deep-copied on
// the way in and out so callers can never alias the stored state.
type Store struct {
	mu        sync.RWMutex
	instances map[string]*models.WorkflowInstance
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		instances: make(map[string]*models.WorkflowInstance),
	}
}

// Save upserts the instance by id.
func (s *Store) Save(_ context.Context, instance *models.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := instance.Clone()
	clone.UpdatedAt = time.Now().UTC()
	s.instances[instance.ID] = clone

	return nil
}

// Load returns a copy of the instance or ErrInstanceNotFound.
func (s *Store) Load(_ context.Context, id string) (*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, store.NewInstanceError("Load", id, store.ErrInstanceNotFound)
	}

	return instance.Clone(), nil
}

// LoadForUser returns copies of every instance owned by userID.
func (s *Store) LoadForUser(_ context.Context, userID string) ([]*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := make([]*models.WorkflowInstance, 0)

	for _, instance := range s.instances {
		if instance.UserID == userID {
			instances = append(instances, instance.Clone())
		}
	}

	return instances, nil
}

// UpdateStatus rewrites only the instance status.
func (s *Store) UpdateStatus(_ context.Context, id string, status models.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return store.NewInstanceError("UpdateStatus", id, store.ErrInstanceNotFound)
	}

	instance.Status = status
	instance.UpdatedAt = time.Now().UTC()

	return nil
}

// UpdateStepStatus rewrites only one step's status.
func (s *Store) UpdateStepStatus(_ context.Context, id, stepID string, status models.StepStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return store.NewStepError("UpdateStepStatus", id, stepID, store.ErrInstanceNotFound)
	}

	step, ok := instance.StepByID(stepID)
	if !ok {
		return store.NewStepError("UpdateStepStatus", id, stepID, store.ErrStepNotFound)
	}

	step.Status = status
	instance.UpdatedAt = time.Now().UTC()

	return nil
}

// DeleteOlderThan removes terminal instances last updated before now-maxAge.
func (s *Store) DeleteOlderThan(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	deleted := 0

	for id, instance := range s.instances {
		if instance.Status.Terminal() && instance.UpdatedAt.Before(cutoff) {
			delete(s.instances, id)
			deleted++
		}
	}

	return deleted, nil
}

// HealthCheck always succeeds for the memory store.
func (s *Store) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close(_ context.Context) error { return nil }
