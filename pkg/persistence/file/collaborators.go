package file

import (
	"context"
	"path/filepath"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

const globalScope = "_global"

// TemplateRepository stores templates under templates/<tenant>/<id>.json;
// global templates live under templates/_global.
type TemplateRepository struct {
	dir string
}

func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{dir: filepath.Join(root, "templates")}
}

func (tr *TemplateRepository) scope(tenantID string) string {
	if tenantID == "" {
		return filepath.Join(tr.dir, globalScope)
	}

	return filepath.Join(tr.dir, tenantID)
}

func (tr *TemplateRepository) Get(_ context.Context, tenantID, id string) (*models.Template, error) {
	if tenantID != "" {
		if err := validateID(tenantID); err != nil {
			return nil, persistence.ErrTemplateNotFound
		}
	}

	var template models.Template
	if err := readJSON(tr.scope(tenantID), id, &template, persistence.ErrTemplateNotFound); err != nil {
		return nil, err
	}

	return &template, nil
}

func (tr *TemplateRepository) Save(_ context.Context, template *models.Template) error {
	if template.TenantID != "" {
		if err := validateID(template.TenantID); err != nil {
			return err
		}
	}

	return writeJSON(tr.scope(template.TenantID), template.ID, template)
}

type ScheduleRepository struct {
	dir string
}

func NewScheduleRepository(root string) *ScheduleRepository {
	return &ScheduleRepository{dir: filepath.Join(root, "schedules")}
}

func (sr *ScheduleRepository) Get(_ context.Context, id string) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := readJSON(sr.dir, id, &schedule, persistence.ErrScheduleNotFound); err != nil {
		return nil, err
	}

	return &schedule, nil
}

func (sr *ScheduleRepository) Save(_ context.Context, schedule *models.Schedule) error {
	return writeJSON(sr.dir, schedule.ID, schedule)
}

// ChannelConfigRepository stores channels/<tenant>/<channel>.json.
type ChannelConfigRepository struct {
	dir string
}

func NewChannelConfigRepository(root string) *ChannelConfigRepository {
	return &ChannelConfigRepository{dir: filepath.Join(root, "channels")}
}

func (cr *ChannelConfigRepository) Get(_ context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error) {
	if err := validateID(tenantID); err != nil {
		return nil, persistence.ErrChannelConfigNotFound
	}

	var config models.ChannelConfig
	if err := readJSON(filepath.Join(cr.dir, tenantID), string(channel), &config, persistence.ErrChannelConfigNotFound); err != nil {
		return nil, err
	}

	return &config, nil
}

func (cr *ChannelConfigRepository) Save(_ context.Context, config *models.ChannelConfig) error {
	if err := validateID(config.TenantID); err != nil {
		return err
	}

	config.UpdatedAt = time.Now().UTC()

	return writeJSON(filepath.Join(cr.dir, config.TenantID), string(config.Channel), config)
}

type AgentRepository struct {
	dir string
}

func NewAgentRepository(root string) *AgentRepository {
	return &AgentRepository{dir: filepath.Join(root, "agents")}
}

func (ar *AgentRepository) Get(_ context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	if err := readJSON(ar.dir, id, &agent, persistence.ErrAgentNotFound); err != nil {
		return nil, err
	}

	return &agent, nil
}

func (ar *AgentRepository) Save(_ context.Context, agent *models.Agent) error {
	return writeJSON(ar.dir, agent.ID, agent)
}
