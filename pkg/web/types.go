// Package web provides HTTP request and response types for the chatflow API.
package web

import "github.com/dukex/chatflow/pkg/models"

// CreateFlowRequest represents the request body for creating a flow.
type CreateFlowRequest struct {
	TenantID string           `json:"tenant_id" validate:"required"`
	Name     string           `json:"name"      validate:"required,min=3"`
	Draft    models.FlowGraph `json:"draft"`
}

// UpdateFlowRequest replaces the draft graph. Name is optional.
type UpdateFlowRequest struct {
	Name  *string           `json:"name,omitempty" validate:"omitempty,min=3"`
	Draft *models.FlowGraph `json:"draft"          validate:"required"`
}

// StartSimulationRequest opens a web chat session for a visitor.
type StartSimulationRequest struct {
	TenantID  string `json:"tenant_id"  validate:"required"`
	FlowID    string `json:"flow_id"    validate:"required"`
	VisitorID string `json:"visitor_id"`
}

// WebchatMessageRequest is a message typed in the web chat widget.
type WebchatMessageRequest struct {
	VisitorID string `json:"visitor_id" validate:"required"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"       validate:"required_without=ButtonID"`
	ButtonID  string `json:"button_id"`
}

type TransferRequest struct {
	Queue string `json:"queue" validate:"required"`
}

type PickupRequest struct {
	AgentID   string `json:"agent_id"   validate:"required"`
	AgentName string `json:"agent_name"`
}

// CloseSessionRequest overrides the continue-flow choice stored by the
// queue node when ContinueFlow is set.
type CloseSessionRequest struct {
	ContinueFlow *bool `json:"continue_flow,omitempty"`
}

type AgentMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

type HeartbeatRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	AgentID  string `json:"agent_id"  validate:"required"`
	Name     string `json:"name"`
}

// SessionSummary is the list view of a session, without its history.
type SessionSummary struct {
	ID            string               `json:"id"`
	TenantID      string               `json:"tenant_id"`
	FlowID        string               `json:"flow_id"`
	Channel       models.ChannelType   `json:"channel"`
	ChannelUserID string               `json:"channel_user_id"`
	Status        models.SessionStatus `json:"status"`
	Queue         string               `json:"queue,omitempty"`
	AgentID       string               `json:"agent_id,omitempty"`
	LastMessage   *models.Message      `json:"last_message,omitempty"`
	Messages      int                  `json:"message_count"`
}

// Summarize builds the list view of a session.
func Summarize(session *models.ChatSession) SessionSummary {
	summary := SessionSummary{
		ID:            session.ID,
		TenantID:      session.TenantID,
		FlowID:        session.FlowID,
		Channel:       session.Channel,
		ChannelUserID: session.ChannelUserID,
		Status:        session.Status,
		Queue:         session.Queue,
		AgentID:       session.AgentID,
		Messages:      len(session.Messages),
	}

	if n := len(session.Messages); n > 0 {
		last := session.Messages[n-1]
		summary.LastMessage = &last
	}

	return summary
}
