package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE raised when the partial index on open
// identities rejects a second non-closed session.
const uniqueViolation = "23505"

// SessionRepository stores each chat session as one JSONB row. The version
// column is the compare-and-swap token for Save.
type SessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sql.DB, logger *slog.Logger) *SessionRepository {
	return &SessionRepository{db: db, logger: logger}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.ChatSession) error {
	session.Version = 1

	data, err := json.Marshal(session)
	if err != nil {
		return persistence.NewSessionError("Create", session.ID, err)
	}

	query := `
		INSERT INTO chat_sessions (id, tenant_id, channel, channel_user_id, status, queue, version, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		session.ID, session.TenantID, string(session.Channel), session.ChannelUserID,
		string(session.Status), session.Queue, session.Version, data,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewSessionError("Create", session.ID, persistence.ErrSessionAlreadyExists)
		}

		return persistence.NewSessionError("Create", session.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewSessionError("Create", session.ID, err)
	}

	if affected == 0 {
		return persistence.NewSessionError("Create", session.ID, persistence.ErrSessionAlreadyExists)
	}

	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.ChatSession, error) {
	session, err := scanSession(r.db.QueryRowContext(ctx, "SELECT version, data FROM chat_sessions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSessionError("GetByID", id, persistence.ErrSessionNotFound)
		}

		return nil, persistence.NewSessionError("GetByID", id, err)
	}

	return session, nil
}

// Save writes the session only if the stored version still equals
// session.Version. On success session.Version is incremented in place.
func (r *SessionRepository) Save(ctx context.Context, session *models.ChatSession) error {
	expected := session.Version
	previousUpdatedAt := session.UpdatedAt

	session.Version = expected + 1
	session.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(session)
	if err != nil {
		session.Version, session.UpdatedAt = expected, previousUpdatedAt

		return persistence.NewSessionError("Save", session.ID, err)
	}

	query := `
		UPDATE chat_sessions
		SET status = $3, queue = $4, version = $5, data = $6, updated_at = $7
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		session.ID, expected, string(session.Status), session.Queue,
		session.Version, data, session.UpdatedAt,
	)
	if err == nil {
		var affected int64

		affected, err = result.RowsAffected()
		if err == nil && affected == 0 {
			err = r.missOrConflict(ctx, session.ID)
		}
	}

	if err != nil {
		session.Version, session.UpdatedAt = expected, previousUpdatedAt

		return persistence.NewSessionError("Save", session.ID, err)
	}

	return nil
}

func (r *SessionRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return err
	}

	if !exists {
		return persistence.ErrSessionNotFound
	}

	return persistence.ErrVersionConflict
}

func (r *SessionRepository) FindOpenByIdentity(
	ctx context.Context,
	tenantID string,
	channel models.ChannelType,
	channelUserID string,
) (*models.ChatSession, error) {
	query := `
		SELECT version, data
		FROM chat_sessions
		WHERE tenant_id = $1 AND channel = $2 AND channel_user_id = $3 AND status <> 'closed'
		ORDER BY created_at DESC
		LIMIT 1
	`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, tenantID, string(channel), channelUserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to find session for %s/%s: %w", channel, channelUserID, err)
	}

	return session, nil
}

func (r *SessionRepository) FindByProcessedMessage(
	ctx context.Context,
	tenantID string,
	channel models.ChannelType,
	channelUserID, messageID string,
) (*models.ChatSession, error) {
	if messageID == "" {
		return nil, persistence.ErrSessionNotFound
	}

	query := `
		SELECT version, data
		FROM chat_sessions
		WHERE tenant_id = $1 AND channel = $2 AND channel_user_id = $3
			AND data->'processed_message_ids' @> jsonb_build_array($4::text)
		ORDER BY created_at DESC
		LIMIT 1
	`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, tenantID, string(channel), channelUserID, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to find message %s for %s/%s: %w", messageID, channel, channelUserID, err)
	}

	return session, nil
}

func (r *SessionRepository) List(ctx context.Context, opts persistence.ListSessionsOptions) ([]*models.ChatSession, error) {
	var (
		conditions []string
		args       []any
	)

	where := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, column+" = $"+strconv.Itoa(len(args)))
	}

	if opts.TenantID != "" {
		where("tenant_id", opts.TenantID)
	}

	if opts.Status != "" {
		where("status", string(opts.Status))
	}

	if opts.Queue != "" {
		where("queue", opts.Queue)
	}

	query := "SELECT version, data FROM chat_sessions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	sessions := make([]*models.ChatSession, 0)

	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		sessions = append(sessions, session)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

func scanSession(row rowScanner) (*models.ChatSession, error) {
	var (
		version int64
		data    []byte
		session models.ChatSession
	)

	if err := row.Scan(&version, &data); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	session.Version = version

	return &session, nil
}
