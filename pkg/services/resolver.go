package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/chatflow/pkg/channels/whatsapp"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// controlTokens restart the conversation with a fresh session.
var controlTokens = map[string]bool{
	"/start":     true,
	"/reset":     true,
	"/reiniciar": true,
}

// IsControlToken reports whether the event asks for a conversation reset.
func IsControlToken(event models.InboundEvent) bool {
	token := event.ControlID
	if token == "" {
		token = event.Text
	}

	return controlTokens[strings.ToLower(strings.TrimSpace(token))]
}

// resolveSession maps a channel identity to its open session. A missing
// session, or a control token, opens a new one for the channel's flow.
// Before opening, the message id is looked up across every session of the
// identity so a redelivery never opens a second one; a hit returns that
// session with ErrDuplicateMessage.
func (c *Chat) resolveSession(ctx context.Context, event models.InboundEvent, control bool) (*models.ChatSession, error) {
	sessions := c.persistence.SessionRepository()

	existing, err := sessions.FindOpenByIdentity(ctx, event.TenantID, event.Channel, event.ChannelUserID)

	switch {
	case err == nil && !control:
		return existing, nil
	case err != nil && !persistence.IsSessionNotFound(err):
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	case err != nil:
		existing = nil
	}

	if event.MessageID != "" {
		processed, err := sessions.FindByProcessedMessage(ctx, event.TenantID, event.Channel, event.ChannelUserID, event.MessageID)

		switch {
		case err == nil:
			return processed, ErrDuplicateMessage
		case !persistence.IsSessionNotFound(err):
			return nil, fmt.Errorf("failed to check processed messages: %w", err)
		}
	}

	config, err := c.channelConfigs.Get(ctx, event.TenantID, event.Channel)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrChannelUnavailable, event.TenantID, event.Channel)
		}

		return nil, err
	}

	chatID := event.ChannelChatID
	if chatID == "" {
		chatID = event.ChannelUserID
	}

	return c.openSession(ctx, event.TenantID, config.FlowID, event.Channel, event.ChannelUserID, chatID, existing)
}

// openSession creates a session after the flow and quota checks pass; only
// then is the previous open session for the identity, if any, closed. The
// quota slot is given back when no session comes out of it. Losing a create
// race to a concurrent delivery resolves to the winner's session.
func (c *Chat) openSession(
	ctx context.Context,
	tenantID, flowID string,
	channel models.ChannelType,
	userID, chatID string,
	previous *models.ChatSession,
) (*models.ChatSession, error) {
	if _, err := c.publishedGraph(ctx, flowID); err != nil {
		return nil, err
	}

	if err := c.quota.Reserve(ctx, tenantID); err != nil {
		return nil, err
	}

	if previous != nil {
		if _, err := c.update(ctx, previous.ID, func(_ context.Context, s *models.ChatSession, _ *sessionChange) error {
			if s.IsClosed() {
				return errNoChange
			}

			s.Close(c.now())

			return nil
		}); err != nil && !errors.Is(err, errNoChange) {
			c.releaseQuota(ctx, tenantID)

			return nil, fmt.Errorf("failed to close previous session: %w", err)
		}
	}

	session := models.NewChatSession(c.newID(), tenantID, flowID, channel, userID, chatID, c.now())

	if err := c.persistence.SessionRepository().Create(ctx, session); err != nil {
		c.releaseQuota(ctx, tenantID)

		if errors.Is(err, persistence.ErrSessionAlreadyExists) {
			winner, findErr := c.persistence.SessionRepository().FindOpenByIdentity(ctx, tenantID, channel, userID)
			if findErr == nil {
				c.logger.DebugContext(ctx, "concurrent session create, using existing session",
					"session_id", winner.ID, "tenant_id", tenantID, "channel", channel)

				return winner, nil
			}
		}

		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c.logger.InfoContext(ctx, "chat session created",
		"session_id", session.ID, "tenant_id", tenantID, "channel", channel, "flow_id", flowID)

	c.publish(ctx, session, events.SessionCreated{
		BaseEvent:     events.NewBaseEvent(events.SessionCreatedEvent, session),
		FlowID:        flowID,
		ChannelUserID: userID,
	})

	return session, nil
}

func (c *Chat) releaseQuota(ctx context.Context, tenantID string) {
	if err := c.quota.Release(ctx, tenantID); err != nil {
		c.logger.WarnContext(ctx, "failed to release quota slot", "tenant_id", tenantID, "error", err)
	}
}

// numberedChoice maps a numeric reply to the button of a menu that was
// degraded to numbered text.
func numberedChoice(session *models.ChatSession, text string) string {
	if session.Channel != models.ChannelWhatsApp {
		return ""
	}

	last, ok := lastBotMessage(session)
	if !ok || len(last.Buttons) <= whatsapp.MaxReplyButtons {
		return ""
	}

	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(last.Buttons) {
		return ""
	}

	return last.Buttons[n-1].ID
}

// displayText renders a customer reply for the history, preferring the
// label of a pressed button over its id.
func displayText(session *models.ChatSession, event models.InboundEvent) string {
	if event.Text != "" || event.ButtonID == "" {
		return event.Text
	}

	if last, ok := lastBotMessage(session); ok {
		for _, button := range last.Buttons {
			if button.ID == event.ButtonID {
				return button.Label
			}
		}
	}

	return event.ButtonID
}

func lastBotMessage(session *models.ChatSession) (models.Message, bool) {
	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].Sender == models.SenderBot {
			return session.Messages[i], true
		}
	}

	return models.Message{}, false
}
