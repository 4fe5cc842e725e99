package main

import (
	"context"
	"log/slog"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
)

var loggedEventTypes = []events.EventType{
	events.SessionCreatedEvent,
	events.MessageAppendedEvent,
	events.SessionQueuedEvent,
	events.SessionPickedUpEvent,
	events.SessionClosedEvent,
	events.FlowResumedEvent,
}

// subscribeEventLog writes every session lifecycle event to the log.
func subscribeEventLog(ctx context.Context, bus eventbus.EventSubscriber, logger *slog.Logger) error {
	handler := func(ctx context.Context, event any) error {
		logger.InfoContext(ctx, "session event", eventAttrs(event)...)

		return nil
	}

	for _, eventType := range loggedEventTypes {
		if err := bus.Handle(eventType, handler); err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}

func eventAttrs(event any) []any {
	base := func(e events.BaseEvent) []any {
		return []any{"event_type", e.Type, "tenant_id", e.TenantID, "session_id", e.SessionID, "channel", e.Channel}
	}

	switch e := event.(type) {
	case *events.SessionCreated:
		return append(base(e.BaseEvent), "flow_id", e.FlowID)
	case *events.MessageAppended:
		return append(base(e.BaseEvent), "sender", e.Message.Sender, "message_id", e.Message.ID)
	case *events.SessionQueued:
		return append(base(e.BaseEvent), "queue", e.Queue)
	case *events.SessionPickedUp:
		return append(base(e.BaseEvent), "agent_id", e.AgentID)
	case *events.SessionClosed:
		return append(base(e.BaseEvent), "agent_id", e.AgentID)
	case *events.FlowResumed:
		return append(base(e.BaseEvent), "node_id", e.NodeID)
	default:
		return []any{"event", event}
	}
}
