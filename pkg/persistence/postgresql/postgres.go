// Package postgresql provides PostgreSQL persistence for flows, chat sessions
// and collaborator records.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/sqlbase"
	// registers the "postgres" driver
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	flowRepo     *FlowRepository
	sessionRepo  *SessionRepository
	templateRepo *TemplateRepository
	scheduleRepo *ScheduleRepository
	channelRepo  *ChannelConfigRepository
	agentRepo    *AgentRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:           database,
		logger:       logger,
		flowRepo:     NewFlowRepository(database, logger),
		sessionRepo:  NewSessionRepository(database, logger),
		templateRepo: &TemplateRepository{db: database},
		scheduleRepo: &ScheduleRepository{db: database},
		channelRepo:  &ChannelConfigRepository{db: database},
		agentRepo:    &AgentRepository{db: database},
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository { return p.flowRepo }

func (p *Persistence) SessionRepository() persistence.SessionRepository { return p.sessionRepo }

func (p *Persistence) TemplateRepository() persistence.TemplateRepository { return p.templateRepo }

func (p *Persistence) ScheduleRepository() persistence.ScheduleRepository { return p.scheduleRepo }

func (p *Persistence) ChannelConfigRepository() persistence.ChannelConfigRepository {
	return p.channelRepo
}

func (p *Persistence) AgentRepository() persistence.AgentRepository { return p.agentRepo }

// closeRows closes rows and logs, rather than returns, a failure.
func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
