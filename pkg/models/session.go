package models

import (
	"errors"
	"fmt"
	"time"
)

// ChannelType is the transport a session was opened on.
type ChannelType string

const (
	ChannelWebchat  ChannelType = "webchat"
	ChannelTelegram ChannelType = "telegram"
	ChannelWhatsApp ChannelType = "whatsapp"
)

// IsValid reports whether c is a supported channel.
func (c ChannelType) IsValid() bool {
	return c == ChannelWebchat || c == ChannelTelegram || c == ChannelWhatsApp
}

// SessionStatus is the chat session state machine.
//
//	active -> bot -> {open, waiting} -> closed
//	waiting -> bot  (agent closes with continue-flow)
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusBot     SessionStatus = "bot"
	SessionStatusOpen    SessionStatus = "open"
	SessionStatusWaiting SessionStatus = "waiting"
	SessionStatusClosed  SessionStatus = "closed"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderBot    Sender = "bot"
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
	SenderAgent  Sender = "agent"
)

// MaxProcessedMessageIDs bounds the dedup window kept per session.
const MaxProcessedMessageIDs = 50

// ErrInvalidTransition is returned when a status change is not allowed from
// the session's current state.
var ErrInvalidTransition = errors.New("invalid session status transition")

// Button is a quick-reply option attached to a bot message.
type Button struct {
	ID    string `json:"id"    yaml:"id"    validate:"required"`
	Label string `json:"label" yaml:"label" validate:"required"`
}

// Message is one entry of the append-only conversation history.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Buttons   []Button  `json:"buttons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is the persisted state of one conversation between a customer
// identity and a tenant's bot and agents.
type ChatSession struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id"`
	FlowID        string      `json:"flow_id"`
	Channel       ChannelType `json:"channel"`
	ChannelUserID string      `json:"channel_user_id"`
	ChannelChatID string      `json:"channel_chat_id"`

	Status        SessionStatus  `json:"status"`
	CurrentNodeID string         `json:"current_node_id,omitempty"`
	Vars          map[string]any `json:"vars"`
	Messages      []Message      `json:"messages"`

	Queue                  string     `json:"queue,omitempty"`
	WaitingSince           *time.Time `json:"waiting_since,omitempty"`
	ContinueFlowAfterQueue bool       `json:"continue_flow_after_queue"`
	ResumeNodeID           string     `json:"resume_node_id,omitempty"`
	ResumePending          bool       `json:"resume_pending"`
	AgentID                string     `json:"agent_id,omitempty"`
	AgentName              string     `json:"agent_name,omitempty"`
	PreferredAgentID       string     `json:"preferred_agent_id,omitempty"`

	ProcessedMessageIDs []string `json:"processed_message_ids,omitempty"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// NewChatSession returns a fresh session in the active state.
func NewChatSession(id, tenantID, flowID string, channel ChannelType, channelUserID, channelChatID string, now time.Time) *ChatSession {
	return &ChatSession{
		ID:            id,
		TenantID:      tenantID,
		FlowID:        flowID,
		Channel:       channel,
		ChannelUserID: channelUserID,
		ChannelChatID: channelChatID,
		Status:        SessionStatusActive,
		Vars:          make(map[string]any),
		Messages:      make([]Message, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsClosed reports whether the session reached its terminal state.
func (s *ChatSession) IsClosed() bool {
	return s.Status == SessionStatusClosed
}

// IsBlocked reports whether the session awaits customer input.
func (s *ChatSession) IsBlocked() bool {
	return s.CurrentNodeID != ""
}

// IsBotDriven reports whether the interpreter owns the conversation.
func (s *ChatSession) IsBotDriven() bool {
	return s.Status == SessionStatusActive || s.Status == SessionStatusBot
}

// AppendMessage adds a message to the history.
func (s *ChatSession) AppendMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// HasProcessed reports whether the message id is inside the trailing window.
func (s *ChatSession) HasProcessed(messageID string) bool {
	if messageID == "" {
		return false
	}

	for _, seen := range s.ProcessedMessageIDs {
		if seen == messageID {
			return true
		}
	}

	return false
}

// MarkProcessed records a channel message id. It returns false when the id
// was already seen inside the trailing window.
func (s *ChatSession) MarkProcessed(messageID string) bool {
	if messageID == "" {
		return true
	}

	if s.HasProcessed(messageID) {
		return false
	}

	s.ProcessedMessageIDs = append(s.ProcessedMessageIDs, messageID)
	if overflow := len(s.ProcessedMessageIDs) - MaxProcessedMessageIDs; overflow > 0 {
		s.ProcessedMessageIDs = append([]string(nil), s.ProcessedMessageIDs[overflow:]...)
	}

	return true
}

// StartBot hands the conversation to the interpreter.
func (s *ChatSession) StartBot() error {
	if !s.IsBotDriven() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, SessionStatusBot)
	}

	s.Status = SessionStatusBot

	return nil
}

// Block parks the session on a node awaiting input.
func (s *ChatSession) Block(nodeID string) {
	s.CurrentNodeID = nodeID
}

// Unblock clears the blocking node before the interpreter resumes.
func (s *ChatSession) Unblock() {
	s.CurrentNodeID = ""
}

// EnqueueForAgent moves the session into a human queue. resumeNodeID is the
// node the flow continues from if an agent later closes with continue-flow;
// continueFlow is the default for that choice.
func (s *ChatSession) EnqueueForAgent(queue, resumeNodeID string, continueFlow bool, now time.Time) error {
	if s.IsClosed() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, SessionStatusWaiting)
	}

	if queue == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidTransition)
	}

	s.Status = SessionStatusWaiting
	s.Queue = queue
	s.WaitingSince = &now
	s.CurrentNodeID = ""
	s.ContinueFlowAfterQueue = continueFlow
	s.ResumeNodeID = resumeNodeID
	s.ResumePending = false

	return nil
}

// Pickup assigns a waiting session to a human agent.
func (s *ChatSession) Pickup(agentID, agentName string) error {
	if s.Status != SessionStatusWaiting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, SessionStatusOpen)
	}

	s.Status = SessionStatusOpen
	s.AgentID = agentID
	s.AgentName = agentName
	s.WaitingSince = nil

	return nil
}

// ContinueFlow returns a queued or agent-owned session to the interpreter
// when a resume point was stored. It reports whether the flow will continue.
func (s *ChatSession) ContinueFlow() bool {
	if s.Status != SessionStatusWaiting && s.Status != SessionStatusOpen {
		return false
	}

	if s.ResumeNodeID == "" {
		return false
	}

	s.Status = SessionStatusBot
	s.ContinueFlowAfterQueue = true
	s.ResumePending = true
	s.WaitingSince = nil

	return true
}

// ConsumeResume returns the stored resume node and clears every resume
// field so the continuation cannot run twice.
func (s *ChatSession) ConsumeResume() (string, bool) {
	if !s.ResumePending || s.ResumeNodeID == "" {
		return "", false
	}

	nodeID := s.ResumeNodeID
	s.ResumeNodeID = ""
	s.ResumePending = false
	s.ContinueFlowAfterQueue = false

	return nodeID, true
}

// Close moves the session to its terminal state.
func (s *ChatSession) Close(now time.Time) {
	s.Status = SessionStatusClosed
	s.CurrentNodeID = ""
	s.ResumePending = false
	s.ResumeNodeID = ""
	s.ContinueFlowAfterQueue = false
	s.WaitingSince = nil
	s.ClosedAt = &now
}
