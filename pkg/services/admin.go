package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/credentials"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Admin maintains the records the interpreter and the channel adapters
// consume: templates, schedules, channel configuration and agents.
type Admin struct {
	persistence persistence.Persistence
	credentials credentials.Cache
	validate    *validator.Validate
	now         func() time.Time
}

func NewAdmin(persistence persistence.Persistence, cache credentials.Cache) *Admin {
	return &Admin{
		persistence: persistence,
		credentials: cache,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (a *Admin) SaveTemplate(ctx context.Context, template *models.Template) error {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}

	if err := a.validate.Struct(template); err != nil {
		return NewValidationError("SaveTemplate", "INVALID_TEMPLATE", err.Error(), ErrInvalidRequest)
	}

	return a.persistence.TemplateRepository().Save(ctx, template)
}

// GetTemplate reads one store only; an empty tenant id is the global store.
func (a *Admin) GetTemplate(ctx context.Context, tenantID, id string) (*models.Template, error) {
	return a.persistence.TemplateRepository().Get(ctx, tenantID, id)
}

func (a *Admin) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}

	if err := a.validate.Struct(schedule); err != nil {
		return NewValidationError("SaveSchedule", "INVALID_SCHEDULE", err.Error(), ErrInvalidRequest)
	}

	for label, rule := range schedule.Rules {
		if !rule.Active {
			continue
		}

		for _, clock := range []string{rule.Start, rule.End} {
			if _, err := models.ParseClock(clock); err != nil {
				return NewValidationError("SaveSchedule", "INVALID_SCHEDULE",
					fmt.Sprintf("rule %s: %v", label, err), ErrInvalidRequest)
			}
		}
	}

	if schedule.Timezone != "" {
		if _, err := time.LoadLocation(schedule.Timezone); err != nil {
			return NewValidationError("SaveSchedule", "INVALID_TIMEZONE", err.Error(), ErrInvalidRequest)
		}
	}

	return a.persistence.ScheduleRepository().Save(ctx, schedule)
}

func (a *Admin) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	return a.persistence.ScheduleRepository().Get(ctx, id)
}

// SaveChannelConfig stores the configuration and drops the cached copy so
// the next webhook or send reads the new credentials.
func (a *Admin) SaveChannelConfig(ctx context.Context, config *models.ChannelConfig) error {
	config.TenantID = strings.TrimSpace(config.TenantID)

	if config.TenantID == "" {
		return NewValidationError("SaveChannelConfig", "INVALID_TENANT", "tenant id is required", ErrInvalidRequest)
	}

	if !config.Channel.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidChannel, config.Channel)
	}

	if err := a.validate.Struct(config); err != nil {
		return NewValidationError("SaveChannelConfig", "INVALID_CHANNEL_CONFIG", err.Error(), ErrInvalidRequest)
	}

	config.UpdatedAt = a.now()

	if err := a.persistence.ChannelConfigRepository().Save(ctx, config); err != nil {
		return fmt.Errorf("failed to save channel config: %w", err)
	}

	return a.credentials.Invalidate(ctx, config.TenantID, config.Channel)
}

func (a *Admin) GetChannelConfig(ctx context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error) {
	return a.persistence.ChannelConfigRepository().Get(ctx, tenantID, channel)
}

func (a *Admin) SaveAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}

	if strings.TrimSpace(agent.TenantID) == "" {
		return NewValidationError("SaveAgent", "INVALID_TENANT", "tenant id is required", ErrInvalidRequest)
	}

	return a.persistence.AgentRepository().Save(ctx, agent)
}

func (a *Admin) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return a.persistence.AgentRepository().Get(ctx, id)
}
