// Package persistence provides the storage abstraction for flows, chat
// sessions and the collaborator records the interpreter consumes.
package persistence

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	SessionRepository() SessionRepository
	TemplateRepository() TemplateRepository
	ScheduleRepository() ScheduleRepository
	ChannelConfigRepository() ChannelConfigRepository
	AgentRepository() AgentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores flow drafts and their published snapshots.
type FlowRepository interface {
	Save(ctx context.Context, flow *models.Flow) error
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Flow, error)
	Delete(ctx context.Context, id string) error
}

// ListSessionsOptions filters session listings.
type ListSessionsOptions struct {
	TenantID string
	Status   models.SessionStatus
	Queue    string
	Limit    int
}

// SessionRepository stores one addressable record per chat session.
type SessionRepository interface {
	// Create inserts a new session with Version 1. It returns
	// ErrSessionAlreadyExists when the id is taken or when the identity
	// already has a session that is not closed.
	Create(ctx context.Context, session *models.ChatSession) error

	// GetByID returns ErrSessionNotFound when the id is unknown.
	GetByID(ctx context.Context, id string) (*models.ChatSession, error)

	// Save is a compare-and-swap write: it succeeds only when the stored
	// version equals session.Version, then increments it. Otherwise it
	// returns ErrVersionConflict and leaves the stored record untouched.
	Save(ctx context.Context, session *models.ChatSession) error

	// FindOpenByIdentity returns the most recent non-closed session for a
	// channel identity or ErrSessionNotFound.
	FindOpenByIdentity(ctx context.Context, tenantID string, channel models.ChannelType, channelUserID string) (*models.ChatSession, error)

	// FindByProcessedMessage returns the most recent session of a channel
	// identity, closed or not, that already recorded messageID, or
	// ErrSessionNotFound.
	FindByProcessedMessage(
		ctx context.Context,
		tenantID string,
		channel models.ChannelType,
		channelUserID, messageID string,
	) (*models.ChatSession, error)

	List(ctx context.Context, opts ListSessionsOptions) ([]*models.ChatSession, error)
}

// TemplateRepository resolves message templates. An empty tenant id addresses
// the global store.
type TemplateRepository interface {
	Get(ctx context.Context, tenantID, id string) (*models.Template, error)
	Save(ctx context.Context, template *models.Template) error
}

type ScheduleRepository interface {
	Get(ctx context.Context, id string) (*models.Schedule, error)
	Save(ctx context.Context, schedule *models.Schedule) error
}

type ChannelConfigRepository interface {
	Get(ctx context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error)
	Save(ctx context.Context, config *models.ChannelConfig) error
}

type AgentRepository interface {
	Get(ctx context.Context, id string) (*models.Agent, error)
	Save(ctx context.Context, agent *models.Agent) error
}
