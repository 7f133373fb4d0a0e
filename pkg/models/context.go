package models

// Artifact is a piece of output produced by a handler (a generated document,
// a sent-message receipt, a verification report) shared through the workflow
// context so later steps can reference it by id.
type Artifact struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Name string         `json:"name,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// WorkflowContext carries the opaque snapshot captured when an instance
// starts plus the artifact list handlers append to. The engine passes it to
// every handler; handlers must not touch instance state directly.
type WorkflowContext struct {
	UserID    string         `json:"user_id,omitempty"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
}

// Clone returns an independent copy of the context.
func (c *WorkflowContext) Clone() *WorkflowContext {
	if c == nil {
		return &WorkflowContext{}
	}

	clone := &WorkflowContext{
		UserID:   c.UserID,
		Snapshot: cloneMap(c.Snapshot),
	}

	if c.Artifacts != nil {
		clone.Artifacts = make([]Artifact, len(c.Artifacts))
		copy(clone.Artifacts, c.Artifacts)
	}

	return clone
}

// AddArtifact appends an artifact to the shared list.
func (c *WorkflowContext) AddArtifact(artifact Artifact) {
	c.Artifacts = append(c.Artifacts, artifact)
}

// ArtifactByID finds an artifact previously appended by a handler.
func (c *WorkflowContext) ArtifactByID(id string) (Artifact, bool) {
	for _, artifact := range c.Artifacts {
		if artifact.ID == id {
			return artifact, true
		}
	}

	return Artifact{}, false
}
