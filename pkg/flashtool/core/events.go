package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// Event is a notification from the executor or one of its operations.
type Event interface {
	// Type is one of the Event* constants.
	Type() string
	Timestamp() time.Time
	Data() interface{}
}

// EventHandler reacts to published events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements EventHandler
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// SubscriptionID is returned by Subscribe and accepted by Unsubscribe.
type SubscriptionID string

// EventBus manages event publishing and subscription. Publishing is
// synchronous: handlers run on the publisher's goroutine, in subscription order.
type EventBus interface {
	Subscribe(eventType string, handler EventHandler) SubscriptionID
	Unsubscribe(subscriptionID SubscriptionID)
	Publish(ctx context.Context, event Event)
}

// BaseEvent is embedded by the concrete events.
type BaseEvent struct {
	EventType string
	Time      time.Time
	Payload   interface{}
}

// Type implements Event
func (e *BaseEvent) Type() string { return e.EventType }

// Timestamp implements Event
func (e *BaseEvent) Timestamp() time.Time { return e.Time }

// Data implements Event
func (e *BaseEvent) Data() interface{} { return e.Payload }

// NewBaseEvent stamps an event with the current time.
func NewBaseEvent(eventType string, data interface{}) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
		Payload:   data,
	}
}

type subscription struct {
	id        SubscriptionID
	eventType string
	handler   EventHandler
}

// MemoryEventBus delivers events in process. It is safe for concurrent use.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	logger Logger
}

// NewMemoryEventBus creates an empty bus; a nil logger discards handler failures.
func NewMemoryEventBus(logger Logger) *MemoryEventBus {
	return &MemoryEventBus{
		nextID: 1,
		logger: OrNop(logger),
	}
}

// Subscribe registers a handler for events of the given type, or for every
// event when eventType is AllEvents.
func (bus *MemoryEventBus) Subscribe(eventType string, handler EventHandler) SubscriptionID {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	subID := SubscriptionID(fmt.Sprintf("sub_%d", bus.nextID))
	bus.nextID++
	bus.subs = append(bus.subs, subscription{id: subID, eventType: eventType, handler: handler})

	bus.logger.Trace().
		Str("event_type", eventType).
		Str("subscription_id", string(subID)).
		Msg("subscribed to event")

	return subID
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (bus *MemoryEventBus) Unsubscribe(subscriptionID SubscriptionID) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	for i, sub := range bus.subs {
		if sub.id == subscriptionID {
			bus.subs = append(bus.subs[:i], bus.subs[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all matching handlers. A failing handler is
// logged and does not stop delivery to the others.
func (bus *MemoryEventBus) Publish(ctx context.Context, event Event) {
	bus.mu.RLock()
	subs := make([]subscription, 0, len(bus.subs))
	for _, sub := range bus.subs {
		if sub.eventType == AllEvents || sub.eventType == event.Type() {
			subs = append(subs, sub)
		}
	}
	bus.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.handler.Handle(ctx, event); err != nil {
			bus.logger.Warn().
				Str("event_type", event.Type()).
				Str("subscription_id", string(sub.id)).
				Err(err).
				Msg("event handler failed")
		}
	}
}
