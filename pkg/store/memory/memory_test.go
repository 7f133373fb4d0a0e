package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/store"
	"github.com/inboxpilot/conduit/pkg/store/memory"
)

func testInstance(userID string) *models.WorkflowInstance {
	def := &models.WorkflowDefinition{
		ID:          "wf-test",
		Name:        "Test workflow",
		Category:    "test",
		EntryStepID: "a",
		Steps: []*models.WorkflowStep{
			{ID: "a", Name: "A", Type: models.StepTypeAIAction},
			{ID: "b", Name: "B", Type: models.StepTypeAIAction, Dependencies: []string{"a"}},
		},
	}

	return models.NewWorkflowInstance(def, &models.WorkflowContext{UserID: userID})
}

func TestSaveAndLoad(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	instance := testInstance("user-1")
	require.NoError(t, s.Save(ctx, instance))

	loaded, err := s.Load(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, loaded.ID)
	assert.Equal(t, models.WorkflowStatusActive, loaded.Status)
	assert.Len(t, loaded.Steps, 2)
}

func TestLoadUnknownInstance(t *testing.T) {
	s := memory.New()

	_, err := s.Load(context.Background(), "wfi-missing")
	require.Error(t, err)
	assert.True(t, store.IsInstanceNotFound(err))
}

func TestLoadReturnsIndependentCopy(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	instance := testInstance("user-1")
	require.NoError(t, s.Save(ctx, instance))

	first, err := s.Load(ctx, instance.ID)
	require.NoError(t, err)
	first.Steps[0].Status = models.StepStatusFailed

	second, err := s.Load(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, second.Steps[0].Status)
}

func TestLoadForUser(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	mine := testInstance("user-1")
	alsoMine := testInstance("user-1")
	theirs := testInstance("user-2")

	for _, instance := range []*models.WorkflowInstance{mine, alsoMine, theirs} {
		require.NoError(t, s.Save(ctx, instance))
	}

	instances, err := s.LoadForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	none, err := s.LoadForUser(ctx, "user-3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateStatus(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	instance := testInstance("user-1")
	require.NoError(t, s.Save(ctx, instance))

	require.NoError(t, s.UpdateStatus(ctx, instance.ID, models.WorkflowStatusPaused))

	loaded, err := s.Load(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, loaded.Status)

	err = s.UpdateStatus(ctx, "wfi-missing", models.WorkflowStatusPaused)
	assert.True(t, store.IsInstanceNotFound(err))
}

func TestUpdateStepStatus(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	instance := testInstance("user-1")
	require.NoError(t, s.Save(ctx, instance))

	require.NoError(t, s.UpdateStepStatus(ctx, instance.ID, "a", models.StepStatusCompleted))

	loaded, err := s.Load(ctx, instance.ID)
	require.NoError(t, err)

	step, ok := loaded.StepByID("a")
	require.True(t, ok)
	assert.Equal(t, models.StepStatusCompleted, step.Status)

	err = s.UpdateStepStatus(ctx, instance.ID, "ghost", models.StepStatusCompleted)
	assert.True(t, store.IsStepNotFound(err))
}

func TestDeleteOlderThan(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	terminal := testInstance("user-1")
	terminal.Status = models.WorkflowStatusCompleted
	require.NoError(t, s.Save(ctx, terminal))

	running := testInstance("user-1")
	require.NoError(t, s.Save(ctx, running))

	time.Sleep(5 * time.Millisecond)

	deleted, err := s.DeleteOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.Load(ctx, terminal.ID)
	assert.True(t, store.IsInstanceNotFound(err))

	// Active instances survive regardless of age.
	_, err = s.Load(ctx, running.ID)
	assert.NoError(t, err)
}

func TestHealthCheckAndClose(t *testing.T) {
	s := memory.New()

	assert.NoError(t, s.HealthCheck(context.Background()))
	assert.NoError(t, s.Close(context.Background()))
}
