// Package eventbus publishes chat session lifecycle events to a watermill
// transport and dispatches them to typed handlers.
package eventbus

import (
	"context"

	"github.com/dukex/chatflow/pkg/events"
)

// Event is any payload declared in package events.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is the side the chat service depends on. Publishing is
// best effort: a failure never rolls back a committed session change.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, event Event) error
}

// EventSubscriber routes decoded events to one handler per type.
// Handlers must be registered before Subscribe starts consuming.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the concrete event struct. Returning an
// error nacks the message for redelivery.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
