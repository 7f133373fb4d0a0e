package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/conduit/pkg/models"
)

func validDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          "wf-test",
		Name:        "Test workflow",
		Category:    "test",
		EntryStepID: "a",
		Steps: []*models.WorkflowStep{
			{ID: "a", Name: "A", Type: models.StepTypeAIAction},
			{ID: "b", Name: "B", Type: models.StepTypeAIAction, Dependencies: []string{"a"}},
			{ID: "c", Name: "C", Type: models.StepTypeAIAction, Dependencies: []string{"a", "b"}},
		},
	}
}

func TestValidateGraphAcceptsValidDefinition(t *testing.T) {
	require.NoError(t, validDefinition().ValidateGraph())
}

func TestValidateGraphRejectsDuplicateStepIDs(t *testing.T) {
	def := validDefinition()
	def.Steps = append(def.Steps, &models.WorkflowStep{ID: "a", Name: "Dup", Type: models.StepTypeAIAction})

	err := def.ValidateGraph()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestValidateGraphRejectsUnknownDependency(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Dependencies = []string{"ghost"}

	err := def.ValidateGraph()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestValidateGraphRejectsSelfDependency(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Dependencies = []string{"b"}

	err := def.ValidateGraph()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestValidateGraphRejectsCycle(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Dependencies = []string{"c"}

	err := def.ValidateGraph()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateGraphRejectsMissingEntryStep(t *testing.T) {
	def := validDefinition()
	def.EntryStepID = "ghost"

	err := def.ValidateGraph()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry step")
}

func TestValidateGraphRejectsUnreachableStep(t *testing.T) {
	def := validDefinition()
	def.Steps = append(def.Steps, &models.WorkflowStep{ID: "island", Name: "Island", Type: models.StepTypeAIAction})

	err := def.ValidateGraph()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestStepValidateRejectsMismatchedConfigVariant(t *testing.T) {
	step := &models.WorkflowStep{
		ID:   "x",
		Name: "X",
		Type: models.StepTypeEmailSend,
		Config: models.StepConfig{
			Wait: &models.WaitConfig{DurationMs: 100},
		},
	}

	err := step.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match step type")
}

func TestStepValidateAcceptsEmptyConfig(t *testing.T) {
	step := &models.WorkflowStep{ID: "x", Name: "X", Type: models.StepTypeWait}
	require.NoError(t, step.Validate())
}

func TestStepValidateRejectsUnknownType(t *testing.T) {
	step := &models.WorkflowStep{ID: "x", Name: "X", Type: "teleport"}

	err := step.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestWorkflowStatusTransitions(t *testing.T) {
	assert.True(t, models.WorkflowStatusActive.CanTransition(models.WorkflowStatusPaused))
	assert.True(t, models.WorkflowStatusActive.CanTransition(models.WorkflowStatusCancelled))
	assert.True(t, models.WorkflowStatusPaused.CanTransition(models.WorkflowStatusActive))
	assert.True(t, models.WorkflowStatusPaused.CanTransition(models.WorkflowStatusCancelled))

	assert.False(t, models.WorkflowStatusPaused.CanTransition(models.WorkflowStatusCompleted))
	assert.False(t, models.WorkflowStatusCompleted.CanTransition(models.WorkflowStatusActive))
	assert.False(t, models.WorkflowStatusCancelled.CanTransition(models.WorkflowStatusActive))
	assert.False(t, models.WorkflowStatusFailed.CanTransition(models.WorkflowStatusActive))
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, models.WorkflowStatusCompleted.Terminal())
	assert.True(t, models.WorkflowStatusFailed.Terminal())
	assert.True(t, models.WorkflowStatusCancelled.Terminal())
	assert.False(t, models.WorkflowStatusActive.Terminal())
	assert.False(t, models.WorkflowStatusPaused.Terminal())
}

func TestNewWorkflowInstanceCopiesSteps(t *testing.T) {
	def := validDefinition()
	instance := models.NewWorkflowInstance(def, &models.WorkflowContext{UserID: "u1"})

	assert.Equal(t, models.WorkflowStatusActive, instance.Status)
	assert.Equal(t, "a", instance.CurrentStepID)
	assert.Equal(t, "u1", instance.UserID)
	require.Len(t, instance.Steps, 3)

	for i, step := range instance.Steps {
		assert.Equal(t, models.StepStatusPending, step.Status)
		assert.NotSame(t, def.Steps[i], step)
	}

	// Mutating the instance must not leak into the definition template.
	instance.Steps[0].Status = models.StepStatusCompleted
	instance.Steps[0].Dependencies = append(instance.Steps[0].Dependencies, "zzz")
	assert.Empty(t, def.Steps[0].Dependencies)
	assert.Equal(t, models.StepStatus(""), def.Steps[0].Status)
}

func TestInstancesOfSameDefinitionShareNothing(t *testing.T) {
	def := validDefinition()
	first := models.NewWorkflowInstance(def, nil)
	second := models.NewWorkflowInstance(def, nil)

	assert.NotEqual(t, first.ID, second.ID)

	first.Steps[0].Status = models.StepStatusFailed
	assert.Equal(t, models.StepStatusPending, second.Steps[0].Status)
}

func TestDependenciesMet(t *testing.T) {
	instance := models.NewWorkflowInstance(validDefinition(), nil)

	stepC, ok := instance.StepByID("c")
	require.True(t, ok)
	assert.False(t, instance.DependenciesMet(stepC))

	stepA, _ := instance.StepByID("a")
	stepA.Status = models.StepStatusCompleted
	assert.False(t, instance.DependenciesMet(stepC), "c still waits on b")

	stepB, _ := instance.StepByID("b")
	stepB.Status = models.StepStatusCompleted
	assert.True(t, instance.DependenciesMet(stepC))
}

func TestNextDependentStepFollowsArenaOrder(t *testing.T) {
	instance := models.NewWorkflowInstance(validDefinition(), nil)

	stepA, _ := instance.StepByID("a")
	stepA.Status = models.StepStatusCompleted

	next, ok := instance.NextDependentStep("a")
	require.True(t, ok)
	assert.Equal(t, "b", next.ID, "b precedes c in the arena")

	_, ok = instance.NextDependentStep("ghost")
	assert.False(t, ok)
}

func TestNextEligibleStepSkipsBlockedSteps(t *testing.T) {
	instance := models.NewWorkflowInstance(validDefinition(), nil)

	stepA, _ := instance.StepByID("a")
	stepA.Status = models.StepStatusInProgress

	_, ok := instance.NextEligibleStep()
	assert.False(t, ok, "b and c wait on a")

	stepA.Status = models.StepStatusCompleted

	next, ok := instance.NextEligibleStep()
	require.True(t, ok)
	assert.Equal(t, "b", next.ID)
}

func TestCompletedStepIDsSortsByCompletionTime(t *testing.T) {
	instance := models.NewWorkflowInstance(validDefinition(), nil)

	base := time.Now().UTC()

	for i, id := range []string{"c", "a", "b"} {
		step, _ := instance.StepByID(id)
		step.Status = models.StepStatusCompleted
		at := base.Add(time.Duration(i) * time.Second)
		step.CompletedAt = &at
	}

	assert.Equal(t, []string{"c", "a", "b"}, instance.CompletedStepIDs())
}

func TestMatchesContext(t *testing.T) {
	def := validDefinition()
	def.RequiredContext = []models.ContextRequirement{
		{Key: "provider"},
		{Key: "plan", Equals: "pro"},
	}

	assert.True(t, def.MatchesContext(map[string]any{"provider": "gmail", "plan": "pro"}))
	assert.False(t, def.MatchesContext(map[string]any{"plan": "pro"}))
	assert.False(t, def.MatchesContext(map[string]any{"provider": "gmail", "plan": "free"}))
}

func TestWorkflowContextCloneIsIndependent(t *testing.T) {
	original := &models.WorkflowContext{
		UserID:   "u1",
		Snapshot: map[string]any{"provider": "gmail"},
	}
	original.AddArtifact(models.Artifact{ID: "doc-1", Type: "document"})

	clone := original.Clone()
	clone.Snapshot["provider"] = "outlook"
	clone.AddArtifact(models.Artifact{ID: "doc-2", Type: "document"})

	assert.Equal(t, "gmail", original.Snapshot["provider"])
	assert.Len(t, original.Artifacts, 1)

	_, ok := clone.ArtifactByID("doc-2")
	assert.True(t, ok)
}

func TestNilWorkflowContextClone(t *testing.T) {
	var wfCtx *models.WorkflowContext

	clone := wfCtx.Clone()
	require.NotNil(t, clone)
	assert.Empty(t, clone.UserID)
}

func TestStepTimeoutCrossesJSONAsMilliseconds(t *testing.T) {
	step := &models.WorkflowStep{
		ID:      "verify",
		Name:    "Verify",
		Type:    models.StepTypeProviderVerification,
		Timeout: 30 * time.Second,
	}

	body, err := json.Marshal(step)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"timeout_ms":30000`)
	assert.NotContains(t, string(body), `"timeout":`)

	var decoded models.WorkflowStep
	require.NoError(t, json.Unmarshal([]byte(`{"id":"verify","name":"Verify","type":"provider_verification","timeout_ms":30000}`), &decoded))
	assert.Equal(t, 30*time.Second, decoded.Timeout)
}

func TestAwaitingCompletion(t *testing.T) {
	awaiting := &models.StepResult{
		Success:  true,
		Metadata: map[string]any{models.MetadataAwaitingCompletion: true},
	}
	assert.True(t, awaiting.AwaitingCompletion())

	assert.False(t, (&models.StepResult{Success: true}).AwaitingCompletion())
	assert.False(t, (*models.StepResult)(nil).AwaitingCompletion())
}
