package models

import "time"

// Template is a reusable bot message. An empty TenantID marks a global template.
type Template struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Text     string   `json:"text"              validate:"required"`
	Buttons  []Button `json:"buttons,omitempty" validate:"dive"`
}

// HasButtons reports whether the template blocks for a choice.
func (t *Template) HasButtons() bool {
	return len(t.Buttons) > 0
}

// ChannelConfig carries a tenant's credentials and routing for one channel.
type ChannelConfig struct {
	TenantID      string      `json:"tenant_id"`
	Channel       ChannelType `json:"channel"`
	FlowID        string      `json:"flow_id"                   validate:"required"`
	BotToken      string      `json:"bot_token,omitempty"`
	WebhookSecret string      `json:"webhook_secret,omitempty"`
	PhoneNumberID string      `json:"phone_number_id,omitempty"`
	AccessToken   string      `json:"access_token,omitempty"`
	VerifyToken   string      `json:"verify_token,omitempty"`
	APIBaseURL    string      `json:"api_base_url,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Agent is a human operator that can pick up queued sessions.
type Agent struct {
	ID            string  `json:"id"`
	TenantID      string  `json:"tenant_id"`
	Name          string  `json:"name"`
	RatingAverage float64 `json:"rating_average"`
	RatingCount   int     `json:"rating_count"`
}

// AddRating folds a 1-5 score into the running average.
func (a *Agent) AddRating(score int) {
	total := a.RatingAverage*float64(a.RatingCount) + float64(score)
	a.RatingCount++
	a.RatingAverage = total / float64(a.RatingCount)
}

// InboundEvent is a channel event normalised by an adapter.
type InboundEvent struct {
	TenantID      string      `json:"tenant_id"       validate:"required"`
	Channel       ChannelType `json:"channel"         validate:"required"`
	ChannelUserID string      `json:"channel_user_id" validate:"required"`
	ChannelChatID string      `json:"channel_chat_id"`
	MessageID     string      `json:"message_id"`
	Text          string      `json:"text"`
	ButtonID      string      `json:"button_id"`
	ControlID     string      `json:"control_id"`
}
