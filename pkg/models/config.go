package models

import "fmt"

// StepConfig is the tagged-union payload of a step, keyed by the step's Type.
// Exactly one variant pointer is set; handler dispatch switches on the step
// type and reads its matching variant, no virtual dispatch involved.
type StepConfig struct {
	AIAction             *AIActionConfig             `json:"ai_action,omitempty"`
	UserAction           *UserActionConfig           `json:"user_action,omitempty"`
	SmartShare           *SmartShareConfig           `json:"smart_share,omitempty"`
	ProviderVerification *ProviderVerificationConfig `json:"provider_verification,omitempty"`
	DeliverabilityFix    *DeliverabilityFixConfig    `json:"deliverability_fix,omitempty"`
	DocumentGeneration   *DocumentGenerationConfig   `json:"document_generation,omitempty"`
	EmailSend            *EmailSendConfig            `json:"email_send,omitempty"`
	Wait                 *WaitConfig                 `json:"wait,omitempty"`
	ContextCheck         *ContextCheckConfig         `json:"context_check,omitempty"`
}

// AIActionConfig drives a model-backed action such as drafting or summarizing.
type AIActionConfig struct {
	Action     string         `json:"action"`
	Prompt     string         `json:"prompt,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// UserActionConfig describes work the user must finish outside the engine.
type UserActionConfig struct {
	Instruction string `json:"instruction"`
	ActionURL   string `json:"action_url,omitempty"`
}

// SmartShareConfig publishes an artifact through a share channel.
type SmartShareConfig struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients,omitempty"`
	ArtifactID string   `json:"artifact_id,omitempty"`
}

// ProviderVerificationConfig checks DNS / authentication records for a domain.
type ProviderVerificationConfig struct {
	Domain  string   `json:"domain"`
	Records []string `json:"records,omitempty"` // spf, dkim, dmarc
}

// DeliverabilityFixConfig applies a remediation suggested by verification.
type DeliverabilityFixConfig struct {
	Issue    string `json:"issue"`
	AutoFix  bool   `json:"auto_fix"`
	Provider string `json:"provider,omitempty"`
}

// DocumentGenerationConfig renders a document from a named template.
type DocumentGenerationConfig struct {
	Template  string         `json:"template"`
	Format    string         `json:"format,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// EmailSendConfig sends a message, optionally referencing a generated document.
type EmailSendConfig struct {
	To         []string `json:"to,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	BodyRef    string   `json:"body_ref,omitempty"` // artifact id of the body document
	TrackOpens bool     `json:"track_opens,omitempty"`
}

// WaitConfig pauses the instance for a fixed duration, in milliseconds.
type WaitConfig struct {
	DurationMs int64 `json:"duration_ms"`
}

// ContextCheckConfig asserts that required keys are present (and optionally
// equal to expected values) in the instance's context snapshot.
type ContextCheckConfig struct {
	RequiredKeys []string       `json:"required_keys,omitempty"`
	Expected     map[string]any `json:"expected,omitempty"`
}

func (c StepConfig) clone() StepConfig {
	clone := StepConfig{}

	if c.AIAction != nil {
		v := *c.AIAction
		v.Parameters = cloneMap(c.AIAction.Parameters)
		clone.AIAction = &v
	}

	if c.UserAction != nil {
		v := *c.UserAction
		clone.UserAction = &v
	}

	if c.SmartShare != nil {
		v := *c.SmartShare
		v.Recipients = cloneSlice(c.SmartShare.Recipients)
		clone.SmartShare = &v
	}

	if c.ProviderVerification != nil {
		v := *c.ProviderVerification
		v.Records = cloneSlice(c.ProviderVerification.Records)
		clone.ProviderVerification = &v
	}

	if c.DeliverabilityFix != nil {
		v := *c.DeliverabilityFix
		clone.DeliverabilityFix = &v
	}

	if c.DocumentGeneration != nil {
		v := *c.DocumentGeneration
		v.Variables = cloneMap(c.DocumentGeneration.Variables)
		clone.DocumentGeneration = &v
	}

	if c.EmailSend != nil {
		v := *c.EmailSend
		v.To = cloneSlice(c.EmailSend.To)
		clone.EmailSend = &v
	}

	if c.Wait != nil {
		v := *c.Wait
		clone.Wait = &v
	}

	if c.ContextCheck != nil {
		v := *c.ContextCheck
		v.RequiredKeys = cloneSlice(c.ContextCheck.RequiredKeys)
		v.Expected = cloneMap(c.ContextCheck.Expected)
		clone.ContextCheck = &v
	}

	return clone
}

// validateFor checks that the variant set on the config matches the step type.
// A nil variant is accepted: most handlers tolerate an empty config.
func (c StepConfig) validateFor(stepType StepType, stepID string) error {
	variants := map[StepType]bool{
		StepTypeAIAction:             c.AIAction != nil,
		StepTypeUserAction:           c.UserAction != nil,
		StepTypeSmartShare:           c.SmartShare != nil,
		StepTypeProviderVerification: c.ProviderVerification != nil,
		StepTypeDeliverabilityFix:    c.DeliverabilityFix != nil,
		StepTypeDocumentGeneration:   c.DocumentGeneration != nil,
		StepTypeEmailSend:            c.EmailSend != nil,
		StepTypeWait:                 c.Wait != nil,
		StepTypeContextCheck:         c.ContextCheck != nil,
	}

	for variantType, set := range variants {
		if set && variantType != stepType {
			return fmt.Errorf("step %s: config variant %q does not match step type %q",
				stepID, variantType, stepType)
		}
	}

	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}

	return clone
}

func cloneSlice(s []string) []string {
	if s == nil {
		return nil
	}

	clone := make([]string, len(s))
	copy(clone, s)

	return clone
}
