// Package whatsapp adapts the WhatsApp Cloud API to the chat channel contract.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dukex/chatflow/pkg/channels"
	"github.com/dukex/chatflow/pkg/models"
)

const (
	// DefaultAPIBaseURL is the Graph API root used without api_base_url.
	DefaultAPIBaseURL = "https://graph.facebook.com/v19.0"

	// MaxReplyButtons is the interactive reply button limit of the API.
	MaxReplyButtons = 3

	maxButtonTitle = 20
)

var ErrMissingCredentials = errors.New("whatsapp phone number id and access token are required")

type Sender struct {
	client        *http.Client
	baseURL       string
	phoneNumberID string
	accessToken   string
}

func NewSender(config *models.ChannelConfig, client *http.Client) (*Sender, error) {
	if config.PhoneNumberID == "" || config.AccessToken == "" {
		return nil, ErrMissingCredentials
	}

	if client == nil {
		client = &http.Client{Timeout: channels.SendTimeout}
	}

	baseURL := config.APIBaseURL
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}

	return &Sender{
		client:        client,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		phoneNumberID: config.PhoneNumberID,
		accessToken:   config.AccessToken,
	}, nil
}

func Factory(client *http.Client) channels.Factory {
	return func(config *models.ChannelConfig) (channels.Sender, error) {
		return NewSender(config, client)
	}
}

type textBody struct {
	Body string `json:"body"`
}

type replyButton struct {
	Type  string `json:"type"`
	Reply struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reply"`
}

type interactive struct {
	Type   string   `json:"type"`
	Body   textBody `json:"body"`
	Action struct {
		Buttons []replyButton `json:"buttons"`
	} `json:"action"`
}

type outbound struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

// BuildPayload renders up to three buttons as interactive reply buttons.
// Longer lists degrade to a numbered plain-text menu.
func BuildPayload(to, text string, buttons []models.Button) any {
	payload := outbound{MessagingProduct: "whatsapp", To: to}

	if len(buttons) == 0 || len(buttons) > MaxReplyButtons {
		payload.Type = "text"
		payload.Text = &textBody{Body: NumberedMenu(text, buttons)}

		return payload
	}

	body := &interactive{Type: "button", Body: textBody{Body: text}}

	for _, button := range buttons {
		rb := replyButton{Type: "reply"}
		rb.Reply.ID = button.ID
		rb.Reply.Title = truncate(button.Label, maxButtonTitle)
		body.Action.Buttons = append(body.Action.Buttons, rb)
	}

	payload.Type = "interactive"
	payload.Interactive = body

	return payload
}

// NumberedMenu appends "n. label" lines for each button.
func NumberedMenu(text string, buttons []models.Button) string {
	if len(buttons) == 0 {
		return text
	}

	var sb strings.Builder

	sb.WriteString(text)

	for i, button := range buttons {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, button.Label)
	}

	return sb.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}

func (s *Sender) SendMessage(ctx context.Context, recipient channels.Recipient, text string, buttons []models.Button) error {
	payload, err := json.Marshal(BuildPayload(recipient.Address(), text, buttons))
	if err != nil {
		return fmt.Errorf("failed to encode whatsapp message: %w", err)
	}

	url := s.baseURL + "/" + s.phoneNumberID + "/messages"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send whatsapp message: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return fmt.Errorf("whatsapp API returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// VerifySubscription answers the webhook verification handshake.
func VerifySubscription(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" || token != expected {
		return "", false
	}

	return challenge, true
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive struct {
						Type        string `json:"type"`
						ButtonReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
					} `json:"interactive"`
					Button struct {
						Payload string `json:"payload"`
						Text    string `json:"text"`
					} `json:"button"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook normalises every customer message of a notification. Status
// callbacks and unsupported message types are skipped.
func ParseWebhook(tenantID string, body []byte) ([]models.InboundEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid whatsapp payload: %w", err)
	}

	var inbound []models.InboundEvent

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				event := models.InboundEvent{
					TenantID:      tenantID,
					Channel:       models.ChannelWhatsApp,
					ChannelUserID: msg.From,
					ChannelChatID: msg.From,
					MessageID:     msg.ID,
				}

				switch msg.Type {
				case "text":
					event.Text = msg.Text.Body
				case "interactive":
					event.ButtonID = msg.Interactive.ButtonReply.ID
					event.Text = msg.Interactive.ButtonReply.Title
				case "button":
					event.ButtonID = msg.Button.Payload
					event.Text = msg.Button.Text
				default:
					continue
				}

				inbound = append(inbound, event)
			}
		}
	}

	return inbound, nil
}
