package registry_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/registry"
)

func testDefinition(id string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          id,
		Name:        "Domain warmup",
		Category:    "deliverability",
		EntryStepID: "verify",
		Steps: []*models.WorkflowStep{
			{ID: "verify", Name: "Verify", Type: models.StepTypeProviderVerification},
			{ID: "fix", Name: "Fix", Type: models.StepTypeDeliverabilityFix, Dependencies: []string{"verify"}},
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := registry.NewDefinitionRegistry()

	require.NoError(t, r.Register(testDefinition("wf-warmup")))

	def, err := r.Get("wf-warmup")
	require.NoError(t, err)
	assert.Equal(t, "wf-warmup", def.ID)
	assert.Len(t, def.Steps, 2)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := registry.NewDefinitionRegistry()

	require.NoError(t, r.Register(testDefinition("wf-dup")))

	err := r.Register(testDefinition("wf-dup"))
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrDuplicateDefinition)
}

func TestRegisterRejectsInvalidStruct(t *testing.T) {
	r := registry.NewDefinitionRegistry()

	def := testDefinition("wf-bad")
	def.Name = "" // validator: required

	require.Error(t, r.Register(def))
}

func TestRegisterRejectsBadGraph(t *testing.T) {
	r := registry.NewDefinitionRegistry()

	def := testDefinition("wf-cyclic")
	def.Steps[0].Dependencies = []string{"fix"}

	err := r.Register(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	r := registry.NewDefinitionRegistry()
	require.NoError(t, r.Register(testDefinition("wf-copy")))

	first, err := r.Get("wf-copy")
	require.NoError(t, err)
	first.Steps[0].Name = "Mutated"

	second, err := r.Get("wf-copy")
	require.NoError(t, err)
	assert.Equal(t, "Verify", second.Steps[0].Name)
}

func TestGetUnknownDefinition(t *testing.T) {
	r := registry.NewDefinitionRegistry()

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrDefinitionNotFound)
}

func TestListSortsByID(t *testing.T) {
	r := registry.NewDefinitionRegistry()

	require.NoError(t, r.Register(testDefinition("wf-zulu")))
	require.NoError(t, r.Register(testDefinition("wf-alpha")))

	defs := r.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "wf-alpha", defs[0].ID)
	assert.Equal(t, "wf-zulu", defs[1].ID)
}

func TestSuggestOrdersByPriorityThenTime(t *testing.T) {
	r := registry.NewDefinitionRegistry()

	urgent := testDefinition("wf-urgent")
	urgent.Priority = 10
	urgent.EstimatedTimeMinutes = 30

	quick := testDefinition("wf-quick")
	quick.Priority = 5
	quick.EstimatedTimeMinutes = 5

	slow := testDefinition("wf-slow")
	slow.Priority = 5
	slow.EstimatedTimeMinutes = 60

	mismatched := testDefinition("wf-elsewhere")
	mismatched.Priority = 100
	mismatched.RequiredContext = []models.ContextRequirement{{Key: "provider", Equals: "outlook"}}

	for _, def := range []*models.WorkflowDefinition{slow, quick, urgent, mismatched} {
		require.NoError(t, r.Register(def))
	}

	suggested := r.Suggest(map[string]any{"provider": "gmail"})
	require.Len(t, suggested, 3)
	assert.Equal(t, "wf-urgent", suggested[0].ID)
	assert.Equal(t, "wf-quick", suggested[1].ID)
	assert.Equal(t, "wf-slow", suggested[2].ID)
}

func TestHandlerRegistry(t *testing.T) {
	r := registry.NewHandlerRegistry()

	r.RegisterFunc(models.StepTypeWait, func(_ context.Context, step *models.WorkflowStep, _ *models.WorkflowContext) (*models.StepResult, error) {
		return &models.StepResult{Type: step.Type, Success: true}, nil
	})

	handler, err := r.Get(models.StepTypeWait)
	require.NoError(t, err)
	require.NotNil(t, handler)

	_, err = r.Get(models.StepTypeEmailSend)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrHandlerNotRegistered)

	assert.Equal(t, []models.StepType{models.StepTypeWait}, r.Types())
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()

	valid := `{
		"id": "wf-from-file",
		"name": "Loaded workflow",
		"category": "onboarding",
		"entry_step_id": "start",
		"steps": [
			{"id": "start", "name": "Start", "type": "ai_action", "timeout_ms": 30000},
			{"id": "finish", "name": "Finish", "type": "email_send", "dependencies": ["start"]}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.json"), []byte(valid), 0o600))

	r := registry.NewDefinitionRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	loaded, err := r.LoadDirectory(logger, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	def, err := r.Get("wf-from-file")
	require.NoError(t, err)
	assert.Equal(t, "start", def.EntryStepID)

	start, ok := def.StepByID("start")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, start.Timeout)

	finish, ok := def.StepByID("finish")
	require.True(t, ok)
	assert.Zero(t, finish.Timeout)
}

func TestLoadDirectoryRejectsSchemaViolations(t *testing.T) {
	dir := t.TempDir()

	// "steps" missing entirely.
	invalid := `{"id": "wf-broken", "name": "Broken", "category": "x", "entry_step_id": "a"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(invalid), 0o600))

	r := registry.NewDefinitionRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := r.LoadDirectory(logger, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
}
