package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/conduit/pkg/handlers"
	"github.com/inboxpilot/conduit/pkg/models"
	"github.com/inboxpilot/conduit/pkg/protocol"
	"github.com/inboxpilot/conduit/pkg/registry"
)

type fakeDocuments struct {
	generated int
}

func (f *fakeDocuments) Generate(_ context.Context, template, format string, _ map[string]any) (models.Artifact, error) {
	f.generated++

	return models.Artifact{
		ID:   "doc-1",
		Type: "document",
		Name: template,
		Data: map[string]any{"content": "rendered " + template, "format": format},
	}, nil
}

type fakeMailer struct {
	lastBody string
	lastTo   []string
}

func (f *fakeMailer) Send(_ context.Context, to []string, _, body string, _ bool) (models.Artifact, error) {
	f.lastTo = to
	f.lastBody = body

	return models.Artifact{ID: "receipt-1", Type: "email_receipt"}, nil
}

type fakeVerifier struct {
	report protocol.VerificationReport
}

func (f *fakeVerifier) Verify(_ context.Context, domain string, _ []string) (protocol.VerificationReport, error) {
	report := f.report
	report.Domain = domain

	return report, nil
}

type fakeFixer struct{}

func (fakeFixer) Fix(_ context.Context, issue, _ string, _ bool) (models.Artifact, error) {
	return models.Artifact{ID: "fix-" + issue, Type: "remediation"}, nil
}

type fakeShare struct {
	sharedID string
}

func (f *fakeShare) Share(_ context.Context, _ string, _ []string, artifact models.Artifact) (models.Artifact, error) {
	f.sharedID = artifact.ID

	return models.Artifact{ID: "share-1", Type: "share_receipt"}, nil
}

type fakeIntelligence struct{}

func (fakeIntelligence) Run(_ context.Context, action, _ string, _ map[string]any) (map[string]any, error) {
	return map[string]any{"action": action, "output": "done"}, nil
}

func TestRegisterBuiltinsCoversEveryStepType(t *testing.T) {
	reg := registry.NewHandlerRegistry()
	handlers.RegisterBuiltins(reg, protocol.Capabilities{})

	for _, stepType := range models.StepTypes() {
		_, err := reg.Get(stepType)
		assert.NoError(t, err, "step type %s", stepType)
	}
}

func TestDocumentGenerationAppendsArtifact(t *testing.T) {
	docs := &fakeDocuments{}
	h := &handlers.DocumentGenerationHandler{Documents: docs}

	step := &models.WorkflowStep{
		ID:   "gen",
		Type: models.StepTypeDocumentGeneration,
		Config: models.StepConfig{
			DocumentGeneration: &models.DocumentGenerationConfig{Template: "welcome", Format: "html"},
		},
	}
	wfCtx := &models.WorkflowContext{}

	result, err := h.Handle(context.Background(), step, wfCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, docs.generated)

	artifact, ok := wfCtx.ArtifactByID("doc-1")
	require.True(t, ok)
	assert.Equal(t, "welcome", artifact.Name)
}

func TestDocumentGenerationWithoutCapability(t *testing.T) {
	h := &handlers.DocumentGenerationHandler{}

	step := &models.WorkflowStep{
		ID:     "gen",
		Type:   models.StepTypeDocumentGeneration,
		Config: models.StepConfig{DocumentGeneration: &models.DocumentGenerationConfig{Template: "t"}},
	}

	_, err := h.Handle(context.Background(), step, &models.WorkflowContext{})
	require.Error(t, err)
	assert.ErrorIs(t, err, handlers.ErrCapabilityMissing)
}

func TestEmailSendResolvesBodyArtifact(t *testing.T) {
	mailer := &fakeMailer{}
	h := &handlers.EmailSendHandler{Mailer: mailer}

	wfCtx := &models.WorkflowContext{}
	wfCtx.AddArtifact(models.Artifact{
		ID:   "doc-1",
		Type: "document",
		Data: map[string]any{"content": "hello there"},
	})

	step := &models.WorkflowStep{
		ID:   "send",
		Type: models.StepTypeEmailSend,
		Config: models.StepConfig{
			EmailSend: &models.EmailSendConfig{
				To:      []string{"a@example.com"},
				Subject: "Welcome",
				BodyRef: "doc-1",
			},
		},
	}

	result, err := h.Handle(context.Background(), step, wfCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello there", mailer.lastBody)
	assert.Equal(t, []string{"a@example.com"}, mailer.lastTo)

	_, ok := wfCtx.ArtifactByID("receipt-1")
	assert.True(t, ok)
}

func TestEmailSendMissingBodyArtifact(t *testing.T) {
	h := &handlers.EmailSendHandler{Mailer: &fakeMailer{}}

	step := &models.WorkflowStep{
		ID:   "send",
		Type: models.StepTypeEmailSend,
		Config: models.StepConfig{
			EmailSend: &models.EmailSendConfig{BodyRef: "ghost"},
		},
	}

	_, err := h.Handle(context.Background(), step, &models.WorkflowContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in context")
}

func TestProviderVerificationFailureFailsStep(t *testing.T) {
	verifier := &fakeVerifier{
		report: protocol.VerificationReport{Passed: false, Issues: []string{"missing dkim"}},
	}
	h := &handlers.ProviderVerificationHandler{Verifier: verifier}

	step := &models.WorkflowStep{
		ID:   "verify",
		Type: models.StepTypeProviderVerification,
		Config: models.StepConfig{
			ProviderVerification: &models.ProviderVerificationConfig{Domain: "example.com"},
		},
	}
	wfCtx := &models.WorkflowContext{}

	result, err := h.Handle(context.Background(), step, wfCtx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "example.com")

	// The report artifact is appended even on failure so a fix step can use it.
	require.Len(t, wfCtx.Artifacts, 1)
	assert.Equal(t, "verification_report", wfCtx.Artifacts[0].Type)
}

func TestDeliverabilityFix(t *testing.T) {
	h := &handlers.DeliverabilityFixHandler{Fixer: fakeFixer{}}

	step := &models.WorkflowStep{
		ID:   "fix",
		Type: models.StepTypeDeliverabilityFix,
		Config: models.StepConfig{
			DeliverabilityFix: &models.DeliverabilityFixConfig{Issue: "spf", AutoFix: true},
		},
	}
	wfCtx := &models.WorkflowContext{}

	result, err := h.Handle(context.Background(), step, wfCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "fix-spf", result.Data["artifact_id"])
}

func TestSmartShareDefaultsToMostRecentArtifact(t *testing.T) {
	share := &fakeShare{}
	h := &handlers.SmartShareHandler{Publisher: share}

	wfCtx := &models.WorkflowContext{}
	wfCtx.AddArtifact(models.Artifact{ID: "old", Type: "document"})
	wfCtx.AddArtifact(models.Artifact{ID: "new", Type: "document"})

	step := &models.WorkflowStep{
		ID:   "share",
		Type: models.StepTypeSmartShare,
		Config: models.StepConfig{
			SmartShare: &models.SmartShareConfig{Channel: "slack"},
		},
	}

	result, err := h.Handle(context.Background(), step, wfCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "new", share.sharedID)
}

func TestSmartShareWithoutArtifacts(t *testing.T) {
	h := &handlers.SmartShareHandler{Publisher: &fakeShare{}}

	step := &models.WorkflowStep{
		ID:     "share",
		Type:   models.StepTypeSmartShare,
		Config: models.StepConfig{SmartShare: &models.SmartShareConfig{Channel: "slack"}},
	}

	_, err := h.Handle(context.Background(), step, &models.WorkflowContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no artifact available")
}

func TestAIAction(t *testing.T) {
	h := &handlers.AIActionHandler{Intelligence: fakeIntelligence{}}

	step := &models.WorkflowStep{
		ID:   "draft",
		Type: models.StepTypeAIAction,
		Config: models.StepConfig{
			AIAction: &models.AIActionConfig{Action: "draft_reply"},
		},
	}

	result, err := h.Handle(context.Background(), step, &models.WorkflowContext{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "draft_reply", result.Data["action"])
}

func TestUserActionResultAwaitsCompletion(t *testing.T) {
	h := &handlers.UserActionHandler{}

	step := &models.WorkflowStep{
		ID:   "approve",
		Type: models.StepTypeUserAction,
		Config: models.StepConfig{
			UserAction: &models.UserActionConfig{Instruction: "approve the draft"},
		},
	}

	result, err := h.Handle(context.Background(), step, &models.WorkflowContext{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.AwaitingCompletion())
	assert.Equal(t, "approve the draft", result.Message)
}

func TestWaitHonorsCancellation(t *testing.T) {
	h := &handlers.WaitHandler{}

	step := &models.WorkflowStep{
		ID:   "wait",
		Type: models.StepTypeWait,
		Config: models.StepConfig{
			Wait: &models.WaitConfig{DurationMs: 60_000},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.Handle(ctx, step, &models.WorkflowContext{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitCompletes(t *testing.T) {
	h := &handlers.WaitHandler{}

	step := &models.WorkflowStep{
		ID:   "wait",
		Type: models.StepTypeWait,
		Config: models.StepConfig{
			Wait: &models.WaitConfig{DurationMs: 1},
		},
	}

	result, err := h.Handle(context.Background(), step, &models.WorkflowContext{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(1), result.Data["waited_ms"])
}

func TestContextCheck(t *testing.T) {
	h := &handlers.ContextCheckHandler{}

	step := &models.WorkflowStep{
		ID:   "check",
		Type: models.StepTypeContextCheck,
		Config: models.StepConfig{
			ContextCheck: &models.ContextCheckConfig{
				RequiredKeys: []string{"provider"},
				Expected:     map[string]any{"plan": "pro"},
			},
		},
	}

	passing := &models.WorkflowContext{Snapshot: map[string]any{"provider": "gmail", "plan": "pro"}}
	result, err := h.Handle(context.Background(), step, passing)
	require.NoError(t, err)
	assert.True(t, result.Success)

	failing := &models.WorkflowContext{Snapshot: map[string]any{"plan": "free"}}
	result, err = h.Handle(context.Background(), step, failing)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"provider"}, result.Data["missing"])
	assert.Equal(t, []string{"plan"}, result.Data["mismatched"])
}

func TestHandlersRejectMissingConfig(t *testing.T) {
	wfCtx := &models.WorkflowContext{}

	cases := []struct {
		name    string
		handler protocol.StepHandler
		step    *models.WorkflowStep
	}{
		{"wait", &handlers.WaitHandler{}, &models.WorkflowStep{ID: "w", Type: models.StepTypeWait}},
		{"user_action", &handlers.UserActionHandler{}, &models.WorkflowStep{ID: "u", Type: models.StepTypeUserAction}},
		{"context_check", &handlers.ContextCheckHandler{}, &models.WorkflowStep{ID: "c", Type: models.StepTypeContextCheck}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.handler.Handle(context.Background(), tc.step, wfCtx)
			require.Error(t, err)
			assert.ErrorIs(t, err, handlers.ErrConfigMissing)
		})
	}
}
