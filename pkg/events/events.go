// Package events defines the lifecycle event types emitted by the workflow
// engine after every workflow and step transition.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/inboxpilot/conduit/pkg/models"
)

type EventType string

// Topic is the message topic workflow events are published on when the bus
// is bridged to an external broker.
const Topic = "conduit.workflow.events"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowStartedEvent   EventType = "workflow_started"
	WorkflowPausedEvent    EventType = "workflow_paused"
	WorkflowResumedEvent   EventType = "workflow_resumed"
	WorkflowCompletedEvent EventType = "workflow_completed"
	WorkflowFailedEvent    EventType = "workflow_failed"
	WorkflowCancelledEvent EventType = "workflow_cancelled"

	// Step lifecycle events.
	StepStartedEvent   EventType = "step_started"
	StepCompletedEvent EventType = "step_completed"
	StepFailedEvent    EventType = "step_failed"
	StepPausedEvent    EventType = "step_paused"
	StepResumedEvent   EventType = "step_resumed"
)

// Event is implemented by every lifecycle event.
type Event interface {
	GetType() EventType
	GetInstanceID() string
}

// BaseEvent carries the fields shared by all lifecycle events.
type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"workflow_instance_id"`
	StepID     string         `json:"step_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (e BaseEvent) GetType() EventType    { return e.Type }
func (e BaseEvent) GetInstanceID() string { return e.InstanceID }

// NewBaseEvent stamps a fresh event envelope.
func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		Data:       make(map[string]any),
	}
}

type WorkflowStarted struct {
	BaseEvent

	DefinitionID string `json:"definition_id"`
	UserID       string `json:"user_id,omitempty"`
	EntryStepID  string `json:"entry_step_id"`
}

func (e WorkflowStarted) GetType() EventType { return WorkflowStartedEvent }

type WorkflowPaused struct {
	BaseEvent

	PausedAtStep string `json:"paused_at_step"`
}

func (e WorkflowPaused) GetType() EventType { return WorkflowPausedEvent }

type WorkflowResumed struct {
	BaseEvent

	ResumedAtStep string `json:"resumed_at_step"`
}

func (e WorkflowResumed) GetType() EventType { return WorkflowResumedEvent }

type WorkflowCompleted struct {
	BaseEvent

	Result     *models.WorkflowResult `json:"result,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

func (e WorkflowCompleted) GetType() EventType { return WorkflowCompletedEvent }

type WorkflowFailed struct {
	BaseEvent

	Error      *models.WorkflowError `json:"error,omitempty"`
	DurationMs int64                 `json:"duration_ms"`
}

func (e WorkflowFailed) GetType() EventType { return WorkflowFailedEvent }

type WorkflowCancelled struct {
	BaseEvent

	CancelledAtStep string `json:"cancelled_at_step,omitempty"`
}

func (e WorkflowCancelled) GetType() EventType { return WorkflowCancelledEvent }

type StepStarted struct {
	BaseEvent

	StepType models.StepType `json:"step_type"`
	Attempt  int             `json:"attempt"` // 1 on first try, increments per retry
}

func (e StepStarted) GetType() EventType { return StepStartedEvent }

type StepCompleted struct {
	BaseEvent

	StepType models.StepType    `json:"step_type"`
	Result   *models.StepResult `json:"result,omitempty"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	StepType   models.StepType   `json:"step_type"`
	Error      *models.StepError `json:"error,omitempty"`
	RetryCount int               `json:"retry_count"`
	WillRetry  bool              `json:"will_retry"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type StepPaused struct {
	BaseEvent

	StepType models.StepType `json:"step_type"`
	Reason   string          `json:"reason,omitempty"`
}

func (e StepPaused) GetType() EventType { return StepPausedEvent }

type StepResumed struct {
	BaseEvent

	StepType models.StepType `json:"step_type"`
}

func (e StepResumed) GetType() EventType { return StepResumedEvent }
