// Package telegram adapts the Telegram Bot API to the chat channel contract.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukex/chatflow/pkg/channels"
	"github.com/dukex/chatflow/pkg/models"
	tele "gopkg.in/telebot.v4"
)

// SecretHeader carries the secret token configured with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

var ErrMissingToken = errors.New("telegram bot token is not configured")

// Sender sends through the Bot API with an offline bot, so building one per
// tenant does not call getMe.
type Sender struct {
	bot *tele.Bot
}

func NewSender(config *models.ChannelConfig, client *http.Client) (*Sender, error) {
	if config.BotToken == "" {
		return nil, ErrMissingToken
	}

	if client == nil {
		client = &http.Client{Timeout: channels.SendTimeout}
	}

	settings := tele.Settings{
		Token:   config.BotToken,
		URL:     config.APIBaseURL,
		Offline: true,
		Client:  client,
	}

	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	return &Sender{bot: bot}, nil
}

// Factory adapts NewSender to channels.Factory.
func Factory(client *http.Client) channels.Factory {
	return func(config *models.ChannelConfig) (channels.Sender, error) {
		return NewSender(config, client)
	}
}

func (s *Sender) SendMessage(ctx context.Context, recipient channels.Recipient, text string, buttons []models.Button) error {
	chatID, err := strconv.ParseInt(recipient.Address(), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", recipient.Address(), err)
	}

	opts := []any{}
	if markup := InlineKeyboard(buttons); markup != nil {
		opts = append(opts, markup)
	}

	done := make(chan error, 1)

	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, opts...)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send telegram message: %w", err)
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("send message timeout: %w", ctx.Err())
	}
}

// InlineKeyboard puts each button on its own row with the button id as
// callback data.
func InlineKeyboard(buttons []models.Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make([][]tele.InlineButton, 0, len(buttons))
	for _, button := range buttons {
		rows = append(rows, []tele.InlineButton{{Text: button.Label, Data: button.ID}})
	}

	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

// ValidSecret compares the webhook secret header. An empty expected secret
// accepts every request.
func ValidSecret(header, expected string) bool {
	if expected == "" {
		return true
	}

	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}

// ParseUpdate normalises a webhook update. ok is false for updates that
// carry neither a text message nor a callback.
func ParseUpdate(tenantID string, body []byte) (models.InboundEvent, bool, error) {
	var update tele.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return models.InboundEvent{}, false, fmt.Errorf("invalid telegram update: %w", err)
	}

	event := models.InboundEvent{
		TenantID:  tenantID,
		Channel:   models.ChannelTelegram,
		MessageID: strconv.Itoa(update.ID),
	}

	switch {
	case update.Callback != nil:
		callback := update.Callback
		if callback.Sender == nil {
			return event, false, nil
		}

		event.ChannelUserID = strconv.FormatInt(callback.Sender.ID, 10)
		event.ButtonID = strings.TrimPrefix(callback.Data, "\f")

		if callback.Message != nil && callback.Message.Chat != nil {
			event.ChannelChatID = strconv.FormatInt(callback.Message.Chat.ID, 10)
		}
	case update.Message != nil:
		message := update.Message
		if message.Sender == nil || message.Chat == nil || message.Text == "" {
			return event, false, nil
		}

		event.ChannelUserID = strconv.FormatInt(message.Sender.ID, 10)
		event.ChannelChatID = strconv.FormatInt(message.Chat.ID, 10)
		event.Text = message.Text
	default:
		return event, false, nil
	}

	return event, true, nil
}
