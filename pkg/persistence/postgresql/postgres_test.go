package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"agents", "channel_configs", "schedules", "templates", "chat_sessions", "flows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("chatflow_test"),
			postgres.WithUsername("chatflow"),
			postgres.WithPassword("chatflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"flows", "chat_sessions", "templates", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestFlowRepository_PublishedSnapshot(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	graph := models.FlowGraph{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart, Data: map[string]any{"text": "Olá"}},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{{ID: "e1", Source: "start", Target: "end"}},
	}

	flow := &models.Flow{
		ID:          uuid.New().String(),
		TenantID:    "tenant-1",
		Name:        "Atendimento",
		Draft:       graph,
		Published:   &graph,
		PublishedAt: &now,
	}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	loaded, err := p.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	require.True(t, loaded.IsPublished())
	assert.Len(t, loaded.Published.Nodes, 2)
	assert.Equal(t, "Olá", loaded.Published.Nodes[0].String("text"))

	flows, err := p.FlowRepository().ListByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	require.NoError(t, p.FlowRepository().Delete(ctx, flow.ID))
	_, err = p.FlowRepository().GetByID(ctx, flow.ID)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestSessionRepository_CompareAndSwap(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.SessionRepository()

	session := models.NewChatSession(uuid.New().String(), "tenant-1", "flow-1", models.ChannelWhatsApp, "5511999990000", "5511999990000", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, session))
	require.ErrorIs(t, repo.Create(ctx, session), persistence.ErrSessionAlreadyExists)

	first, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)

	require.NoError(t, first.EnqueueForAgent("SUPPORT", "", false, time.Now().UTC()))
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Vars["lost"] = true
	require.ErrorIs(t, repo.Save(ctx, second), persistence.ErrVersionConflict)
	assert.Equal(t, int64(1), second.Version)

	waiting, err := repo.List(ctx, persistence.ListSessionsOptions{Status: models.SessionStatusWaiting, Queue: "SUPPORT"})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.NotContains(t, waiting[0].Vars, "lost")

	found, err := repo.FindOpenByIdentity(ctx, "tenant-1", models.ChannelWhatsApp, "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)

	found.Close(time.Now().UTC())
	require.NoError(t, repo.Save(ctx, found))

	_, err = repo.FindOpenByIdentity(ctx, "tenant-1", models.ChannelWhatsApp, "5511999990000")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func TestSessionRepository_OneOpenSessionPerIdentity(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.SessionRepository()
	now := time.Now().UTC()

	first := models.NewChatSession(uuid.New().String(), "tenant-1", "flow-1", models.ChannelTelegram, "42", "42", now)
	first.MarkProcessed("update-1")
	require.NoError(t, repo.Create(ctx, first))

	second := models.NewChatSession(uuid.New().String(), "tenant-1", "flow-1", models.ChannelTelegram, "42", "42", now)
	require.ErrorIs(t, repo.Create(ctx, second), persistence.ErrSessionAlreadyExists)

	first.Close(now)
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	found, err := repo.FindByProcessedMessage(ctx, "tenant-1", models.ChannelTelegram, "42", "update-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.True(t, found.IsClosed())

	_, err = repo.FindByProcessedMessage(ctx, "tenant-1", models.ChannelTelegram, "42", "update-2")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func TestCollaboratorRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.TemplateRepository().Save(ctx, &models.Template{
		ID:      "menu",
		Text:    "Escolha uma opção",
		Buttons: []models.Button{{ID: "sales", Label: "Vendas"}},
	}))

	template, err := p.TemplateRepository().Get(ctx, "", "menu")
	require.NoError(t, err)
	assert.True(t, template.HasButtons())

	_, err = p.TemplateRepository().Get(ctx, "tenant-1", "menu")
	require.ErrorIs(t, err, persistence.ErrTemplateNotFound)

	require.NoError(t, p.ScheduleRepository().Save(ctx, &models.Schedule{
		ID:    "business",
		Rules: map[string]models.DayRule{"monday": {Active: true, Start: "08:00", End: "18:00"}},
	}))

	schedule, err := p.ScheduleRepository().Get(ctx, "business")
	require.NoError(t, err)
	assert.True(t, schedule.Rules["monday"].Active)

	require.NoError(t, p.ChannelConfigRepository().Save(ctx, &models.ChannelConfig{
		TenantID: "tenant-1", Channel: models.ChannelTelegram, FlowID: "flow-1", BotToken: "123:abc",
	}))

	config, err := p.ChannelConfigRepository().Get(ctx, "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", config.BotToken)

	require.NoError(t, p.AgentRepository().Save(ctx, &models.Agent{ID: "agent-1", Name: "Ana"}))
	_, err = p.AgentRepository().Get(ctx, "agent-2")
	require.ErrorIs(t, err, persistence.ErrAgentNotFound)
}
