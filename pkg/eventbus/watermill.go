package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/inboxpilot/conduit/pkg/events"
)

// WatermillEventBus bridges the in-process bus to a watermill
// publisher/subscriber pair so lifecycle events also leave the process.
// Local listeners still get synchronous, ordered delivery; the broker copy is
// best-effort fan-out for other services.
type WatermillEventBus struct {
	local      *InProcBus
	publisher  message.Publisher
	subscriber message.Subscriber
}

// NewWatermillEventBus wraps pub/sub channels created by pkg/channels.
func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		local:      NewInProcBus(),
		publisher:  pub,
		subscriber: sub,
	}
}

// Publish delivers locally first, then publishes the JSON-encoded event to
// the broker topic keyed by instance id.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event events.Event) error {
	if err := eb.local.Publish(ctx, key, event); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(events.EventKeyMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

// OnEvent subscribes a local listener.
func (eb *WatermillEventBus) OnEvent(listener Listener) func() {
	return eb.local.OnEvent(listener)
}

// Subscribe starts consuming broker messages and replays them to local
// listeners. Use it in processes that observe workflows they do not run.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			event, err := decodeEvent(msg)
			if err != nil {
				msg.Nack()

				continue
			}

			_ = eb.local.Publish(ctx, msg.Metadata.Get(events.EventKeyMetadataKey), event)
			msg.Ack()
		}
	}()

	return nil
}

// Close shuts down the broker channels and drops local subscriptions.
func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	if err := eb.subscriber.Close(); err != nil {
		return err
	}

	return eb.local.Close()
}

func decodeEvent(msg *message.Message) (events.Event, error) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	var event events.Event

	switch eventType {
	case events.WorkflowStartedEvent:
		event = &events.WorkflowStarted{}
	case events.WorkflowPausedEvent:
		event = &events.WorkflowPaused{}
	case events.WorkflowResumedEvent:
		event = &events.WorkflowResumed{}
	case events.WorkflowCompletedEvent:
		event = &events.WorkflowCompleted{}
	case events.WorkflowFailedEvent:
		event = &events.WorkflowFailed{}
	case events.WorkflowCancelledEvent:
		event = &events.WorkflowCancelled{}
	case events.StepStartedEvent:
		event = &events.StepStarted{}
	case events.StepCompletedEvent:
		event = &events.StepCompleted{}
	case events.StepFailedEvent:
		event = &events.StepFailed{}
	case events.StepPausedEvent:
		event = &events.StepPaused{}
	case events.StepResumedEvent:
		event = &events.StepResumed{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(msg.Payload, event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", eventType, err)
	}

	return event, nil
}
