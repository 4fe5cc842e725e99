package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// TemplateRepository stores templates keyed by (tenant, id); the empty tenant
// is the global store.
type TemplateRepository struct {
	db *sql.DB
}

func (r *TemplateRepository) Get(ctx context.Context, tenantID, id string) (*models.Template, error) {
	var template models.Template

	err := getDocument(ctx, r.db, &template,
		"SELECT data FROM templates WHERE tenant_id = $1 AND id = $2", tenantID, id)
	if err != nil {
		return nil, notFoundAs(err, persistence.ErrTemplateNotFound)
	}

	return &template, nil
}

func (r *TemplateRepository) Save(ctx context.Context, template *models.Template) error {
	return putDocument(ctx, r.db, template, `
		INSERT INTO templates (tenant_id, id, data) VALUES ($2, $3, $1)
		ON CONFLICT (tenant_id, id) DO UPDATE SET data = EXCLUDED.data
	`, template.TenantID, template.ID)
}

type ScheduleRepository struct {
	db *sql.DB
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (*models.Schedule, error) {
	var schedule models.Schedule

	err := getDocument(ctx, r.db, &schedule, "SELECT data FROM schedules WHERE id = $1", id)
	if err != nil {
		return nil, notFoundAs(err, persistence.ErrScheduleNotFound)
	}

	return &schedule, nil
}

func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	return putDocument(ctx, r.db, schedule, `
		INSERT INTO schedules (id, tenant_id, data) VALUES ($2, $3, $1)
		ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, data = EXCLUDED.data
	`, schedule.ID, schedule.TenantID)
}

type ChannelConfigRepository struct {
	db *sql.DB
}

func (r *ChannelConfigRepository) Get(ctx context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error) {
	var config models.ChannelConfig

	err := getDocument(ctx, r.db, &config,
		"SELECT data FROM channel_configs WHERE tenant_id = $1 AND channel = $2", tenantID, string(channel))
	if err != nil {
		return nil, notFoundAs(err, persistence.ErrChannelConfigNotFound)
	}

	return &config, nil
}

func (r *ChannelConfigRepository) Save(ctx context.Context, config *models.ChannelConfig) error {
	config.UpdatedAt = time.Now().UTC()

	return putDocument(ctx, r.db, config, `
		INSERT INTO channel_configs (tenant_id, channel, data, updated_at) VALUES ($2, $3, $1, $4)
		ON CONFLICT (tenant_id, channel) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, config.TenantID, string(config.Channel), config.UpdatedAt)
}

type AgentRepository struct {
	db *sql.DB
}

func (r *AgentRepository) Get(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent

	err := getDocument(ctx, r.db, &agent, "SELECT data FROM agents WHERE id = $1", id)
	if err != nil {
		return nil, notFoundAs(err, persistence.ErrAgentNotFound)
	}

	return &agent, nil
}

func (r *AgentRepository) Save(ctx context.Context, agent *models.Agent) error {
	return putDocument(ctx, r.db, agent, `
		INSERT INTO agents (id, tenant_id, data) VALUES ($2, $3, $1)
		ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, data = EXCLUDED.data
	`, agent.ID, agent.TenantID)
}

// getDocument scans a single JSONB column into v.
func getDocument(ctx context.Context, db *sql.DB, v any, query string, args ...any) error {
	var data []byte

	if err := db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return nil
}

// putDocument marshals v as $1 followed by the key arguments.
func putDocument(ctx context.Context, db *sql.DB, v any, query string, keys ...any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if _, err := db.ExecContext(ctx, query, append([]any{data}, keys...)...); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}

func notFoundAs(err, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}

	return err
}
