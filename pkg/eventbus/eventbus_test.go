package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxpilot/conduit/pkg/channels/gochannel"
	"github.com/inboxpilot/conduit/pkg/eventbus"
	"github.com/inboxpilot/conduit/pkg/events"
)

func TestInProcBusDeliversInOrder(t *testing.T) {
	bus := eventbus.NewInProcBus()

	var got []events.EventType

	bus.OnEvent(func(_ context.Context, event events.Event) {
		got = append(got, event.GetType())
	})

	emitted := []events.Event{
		events.WorkflowStarted{BaseEvent: events.NewBaseEvent(events.WorkflowStartedEvent, "wfi-1")},
		events.StepStarted{BaseEvent: events.NewBaseEvent(events.StepStartedEvent, "wfi-1")},
		events.StepCompleted{BaseEvent: events.NewBaseEvent(events.StepCompletedEvent, "wfi-1")},
		events.WorkflowCompleted{BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, "wfi-1")},
	}

	for _, event := range emitted {
		require.NoError(t, bus.Publish(context.Background(), "wfi-1", event))
	}

	assert.Equal(t, []events.EventType{
		events.WorkflowStartedEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.WorkflowCompletedEvent,
	}, got)
}

func TestInProcBusUnsubscribe(t *testing.T) {
	bus := eventbus.NewInProcBus()

	first, second := 0, 0
	unsubscribe := bus.OnEvent(func(_ context.Context, _ events.Event) { first++ })
	bus.OnEvent(func(_ context.Context, _ events.Event) { second++ })

	event := events.WorkflowStarted{BaseEvent: events.NewBaseEvent(events.WorkflowStartedEvent, "wfi-1")}
	require.NoError(t, bus.Publish(context.Background(), "wfi-1", event))

	unsubscribe()
	unsubscribe() // idempotent

	require.NoError(t, bus.Publish(context.Background(), "wfi-1", event))

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestInProcBusCloseDropsListeners(t *testing.T) {
	bus := eventbus.NewInProcBus()

	calls := 0
	bus.OnEvent(func(_ context.Context, _ events.Event) { calls++ })

	require.NoError(t, bus.Close())

	event := events.WorkflowStarted{BaseEvent: events.NewBaseEvent(events.WorkflowStartedEvent, "wfi-1")}
	require.NoError(t, bus.Publish(context.Background(), "wfi-1", event))
	assert.Equal(t, 0, calls)
}

func TestWatermillBusRoundTrip(t *testing.T) {
	logger := watermill.NopLogger{}

	pub, sub, err := gochannel.CreateTestChannel(logger)
	require.NoError(t, err)

	publisherSide := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		require.NoError(t, publisherSide.Close())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []events.Event
	)

	// A second bus sharing the channel sees the broker copy.
	observerSide := eventbus.NewWatermillEventBus(pub, sub)
	observerSide.OnEvent(func(_ context.Context, event events.Event) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	})
	require.NoError(t, observerSide.Subscribe(ctx))

	sent := events.StepCompleted{
		BaseEvent: events.NewBaseEvent(events.StepCompletedEvent, "wfi-42"),
		StepType:  "email_send",
	}
	require.NoError(t, publisherSide.Publish(ctx, "wfi-42", sent))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	decoded, ok := received[0].(*events.StepCompleted)
	require.True(t, ok)
	assert.Equal(t, "wfi-42", decoded.GetInstanceID())
	assert.Equal(t, events.StepCompletedEvent, decoded.GetType())
	assert.Equal(t, sent.ID, decoded.ID)
}
