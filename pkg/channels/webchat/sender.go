// Package webchat is the embedded web widget channel. Widgets read the
// session history and the session.message events, so sending only logs.
package webchat

import (
	"context"
	"log/slog"

	"github.com/dukex/chatflow/pkg/channels"
	"github.com/dukex/chatflow/pkg/models"
)

type Sender struct {
	logger *slog.Logger
}

func NewSender(logger *slog.Logger) *Sender {
	return &Sender{logger: logger.With("module", "webchat_sender")}
}

func (s *Sender) SendMessage(ctx context.Context, recipient channels.Recipient, text string, buttons []models.Button) error {
	s.logger.DebugContext(ctx, "message available to widget",
		"session_id", recipient.SessionID, "chars", len(text), "buttons", len(buttons))

	return nil
}
