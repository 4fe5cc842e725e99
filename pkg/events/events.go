// Package events defines the chat session lifecycle events published on the
// event bus.
package events

import (
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every session lifecycle event.
const Topic = "chatflow.sessions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	SessionCreatedEvent  EventType = "session.created"
	MessageAppendedEvent EventType = "session.message"
	SessionQueuedEvent   EventType = "session.queued"
	SessionPickedUpEvent EventType = "session.picked_up"
	SessionClosedEvent   EventType = "session.closed"
	FlowResumedEvent     EventType = "session.flow_resumed"
)

type BaseEvent struct {
	ID        string             `json:"id"`
	Type      EventType          `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	TenantID  string             `json:"tenant_id"`
	SessionID string             `json:"session_id"`
	Channel   models.ChannelType `json:"channel"`
}

func NewBaseEvent(eventType EventType, session *models.ChatSession) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Channel:   session.Channel,
	}
}

// SessionCreated is published when a channel identity gets a new session.
type SessionCreated struct {
	BaseEvent

	FlowID        string `json:"flow_id"`
	ChannelUserID string `json:"channel_user_id"`
}

func (e SessionCreated) GetType() EventType {
	return SessionCreatedEvent
}

// MessageAppended is published for every message added to the history,
// whatever its sender. Web widgets poll or subscribe to these.
type MessageAppended struct {
	BaseEvent

	Message models.Message `json:"message"`
}

func (e MessageAppended) GetType() EventType {
	return MessageAppendedEvent
}

type SessionQueued struct {
	BaseEvent

	Queue            string `json:"queue"`
	PreferredAgentID string `json:"preferred_agent_id,omitempty"`
}

func (e SessionQueued) GetType() EventType {
	return SessionQueuedEvent
}

type SessionPickedUp struct {
	BaseEvent

	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
}

func (e SessionPickedUp) GetType() EventType {
	return SessionPickedUpEvent
}

type SessionClosed struct {
	BaseEvent

	AgentID string `json:"agent_id,omitempty"`
}

func (e SessionClosed) GetType() EventType {
	return SessionClosedEvent
}

// FlowResumed is published when a queued session re-enters the bot.
type FlowResumed struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e FlowResumed) GetType() EventType {
	return FlowResumedEvent
}
