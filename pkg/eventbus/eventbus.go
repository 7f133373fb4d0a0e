// Package eventbus fans workflow lifecycle events out to subscribers, either
// purely in-process or bridged through a message broker.
package eventbus

import (
	"context"
	"sync"

	"github.com/inboxpilot/conduit/pkg/events"
)

// Listener receives lifecycle events. Delivery is synchronous and in emission
// order; a slow listener slows the engine, so listeners should hand work off
// quickly.
type Listener func(ctx context.Context, event events.Event)

// EventBus is the engine's outbound event surface.
type EventBus interface {
	// Publish delivers the event to every subscribed listener. Key is a
	// partitioning hint for brokered implementations (the instance id).
	Publish(ctx context.Context, key string, event events.Event) error

	// OnEvent subscribes a listener and returns its unsubscribe function.
	OnEvent(listener Listener) func()

	Close() error
}

type subscriber struct {
	id       uint64
	listener Listener
}

// InProcBus is the in-process EventBus: synchronous fan-out, listeners called
// in subscription order.
type InProcBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
	closed bool
}

// NewInProcBus returns an empty in-process bus.
func NewInProcBus() *InProcBus {
	return &InProcBus{}
}

// Publish calls every listener synchronously, preserving emission order.
func (b *InProcBus) Publish(ctx context.Context, _ string, event events.Event) error {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.listener(ctx, event)
	}

	return nil
}

// OnEvent registers a listener. The returned function removes it; calling it
// more than once is harmless.
func (b *InProcBus) OnEvent(listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, listener: listener})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)

				break
			}
		}
	}
}

// Close drops all subscriptions.
func (b *InProcBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = nil
	b.closed = true

	return nil
}
