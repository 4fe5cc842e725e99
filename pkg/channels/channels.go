// Package channels defines the outbound contract of chat channel adapters
// and resolves the adapter for a tenant's channel.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/chatflow/pkg/credentials"
	"github.com/dukex/chatflow/pkg/models"
)

// SendTimeout bounds a single outbound send.
const SendTimeout = 10 * time.Second

// ErrUnsupportedChannel is returned for channels without a registered adapter.
var ErrUnsupportedChannel = errors.New("unsupported channel")

// Recipient addresses one conversation on a channel.
type Recipient struct {
	TenantID  string
	SessionID string
	Channel   models.ChannelType
	UserID    string
	ChatID    string
}

// Address returns the chat id, falling back to the user id.
func (r Recipient) Address() string {
	if r.ChatID != "" {
		return r.ChatID
	}

	return r.UserID
}

// RecipientFor addresses the customer of a session.
func RecipientFor(session *models.ChatSession) Recipient {
	return Recipient{
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Channel:   session.Channel,
		UserID:    session.ChannelUserID,
		ChatID:    session.ChannelChatID,
	}
}

// Sender delivers a bot or agent message to a customer.
type Sender interface {
	SendMessage(ctx context.Context, recipient Recipient, text string, buttons []models.Button) error
}

// Factory builds a sender from a tenant's channel configuration.
type Factory func(config *models.ChannelConfig) (Sender, error)

// Registry resolves senders. Channels registered with a Factory need
// per-tenant credentials; static senders serve every tenant.
type Registry struct {
	credentials credentials.Cache

	mu        sync.RWMutex
	factories map[models.ChannelType]Factory
	static    map[models.ChannelType]Sender
}

func NewRegistry(cache credentials.Cache) *Registry {
	return &Registry{
		credentials: cache,
		factories:   make(map[models.ChannelType]Factory),
		static:      make(map[models.ChannelType]Sender),
	}
}

func (r *Registry) Register(channel models.ChannelType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[channel] = factory
}

func (r *Registry) RegisterStatic(channel models.ChannelType, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.static[channel] = sender
}

// Sender returns the adapter for the tenant's channel.
func (r *Registry) Sender(ctx context.Context, tenantID string, channel models.ChannelType) (Sender, error) {
	r.mu.RLock()
	sender, isStatic := r.static[channel]
	factory, hasFactory := r.factories[channel]
	r.mu.RUnlock()

	if isStatic {
		return sender, nil
	}

	if !hasFactory {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, channel)
	}

	config, err := r.credentials.Get(ctx, tenantID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s credentials for tenant %s: %w", channel, tenantID, err)
	}

	return factory(config)
}

// Send resolves the recipient's adapter and delivers one message.
func (r *Registry) Send(ctx context.Context, recipient Recipient, text string, buttons []models.Button) error {
	sender, err := r.Sender(ctx, recipient.TenantID, recipient.Channel)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()

	return sender.SendMessage(ctx, recipient, text, buttons)
}
