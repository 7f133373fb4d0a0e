package protocol

import (
	"context"

	"github.com/inboxpilot/conduit/pkg/models"
)

// The capability interfaces below are the engine's view of the surrounding
// product. Implementations are injected at construction time; the built-in
// handlers in pkg/handlers are thin adapters over them.

// DocumentGenerator renders a document from a template.
type DocumentGenerator interface {
	Generate(ctx context.Context, template, format string, variables map[string]any) (models.Artifact, error)
}

// Mailer sends a message and returns a receipt artifact.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string, trackOpens bool) (models.Artifact, error)
}

// VerificationReport is the outcome of checking one domain's sending setup.
type VerificationReport struct {
	Domain  string         `json:"domain"`
	Passed  bool           `json:"passed"`
	Records map[string]any `json:"records,omitempty"` // per-record findings
	Issues  []string       `json:"issues,omitempty"`
}

// ProviderVerifier checks a domain's DNS and authentication records.
type ProviderVerifier interface {
	Verify(ctx context.Context, domain string, records []string) (VerificationReport, error)
}

// DeliverabilityFixer applies a remediation for a reported issue.
type DeliverabilityFixer interface {
	Fix(ctx context.Context, issue, provider string, autoFix bool) (models.Artifact, error)
}

// SharePublisher publishes an artifact through an external share channel.
type SharePublisher interface {
	Share(ctx context.Context, channel string, recipients []string, artifact models.Artifact) (models.Artifact, error)
}

// Intelligence runs a model-backed action (drafting, summarizing, ...).
type Intelligence interface {
	Run(ctx context.Context, action, prompt string, parameters map[string]any) (map[string]any, error)
}

// Capabilities bundles every injected collaborator the built-in handlers
// need. Fields may be nil; a handler whose capability is missing fails the
// step with a configuration error rather than panicking.
type Capabilities struct {
	Documents      DocumentGenerator
	Mailer         Mailer
	Verifier       ProviderVerifier
	Deliverability DeliverabilityFixer
	Share          SharePublisher
	Intelligence   Intelligence
}
