package file

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// SessionRepository handles chat session file operations. Writes are
// serialized by a mutex so the version check and the write are atomic
// within the process.
type SessionRepository struct {
	dir string
	mu  sync.Mutex
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(root string) *SessionRepository {
	return &SessionRepository{dir: filepath.Join(root, "sessions")}
}

func (sr *SessionRepository) Create(ctx context.Context, session *models.ChatSession) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	var existing models.ChatSession

	err := readJSON(sr.dir, session.ID, &existing, persistence.ErrSessionNotFound)
	if err == nil {
		return persistence.NewSessionError("Create", session.ID, persistence.ErrSessionAlreadyExists)
	}

	if !errors.Is(err, persistence.ErrSessionNotFound) {
		return persistence.NewSessionError("Create", session.ID, err)
	}

	// At most one session per identity is not closed.
	if !session.IsClosed() {
		_, err = sr.findOpen(ctx, session.TenantID, session.Channel, session.ChannelUserID)

		switch {
		case err == nil:
			return persistence.NewSessionError("Create", session.ID, persistence.ErrSessionAlreadyExists)
		case !errors.Is(err, persistence.ErrSessionNotFound):
			return persistence.NewSessionError("Create", session.ID, err)
		}
	}

	session.Version = 1

	if err := writeJSON(sr.dir, session.ID, session); err != nil {
		return persistence.NewSessionError("Create", session.ID, err)
	}

	return nil
}

func (sr *SessionRepository) GetByID(_ context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession

	if err := readJSON(sr.dir, id, &session, persistence.ErrSessionNotFound); err != nil {
		return nil, persistence.NewSessionError("GetByID", id, err)
	}

	return &session, nil
}

func (sr *SessionRepository) Save(_ context.Context, session *models.ChatSession) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	var stored models.ChatSession
	if err := readJSON(sr.dir, session.ID, &stored, persistence.ErrSessionNotFound); err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	if stored.Version != session.Version {
		return persistence.NewSessionError("Save", session.ID, persistence.ErrVersionConflict)
	}

	next := *session
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if err := writeJSON(sr.dir, session.ID, &next); err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	session.Version = next.Version
	session.UpdatedAt = next.UpdatedAt

	return nil
}

func (sr *SessionRepository) FindOpenByIdentity(ctx context.Context, tenantID string, channel models.ChannelType, channelUserID string) (*models.ChatSession, error) {
	return sr.findOpen(ctx, tenantID, channel, channelUserID)
}

func (sr *SessionRepository) findOpen(ctx context.Context, tenantID string, channel models.ChannelType, channelUserID string) (*models.ChatSession, error) {
	return sr.latest(ctx, tenantID, channel, channelUserID, func(session *models.ChatSession) bool {
		return !session.IsClosed()
	})
}

func (sr *SessionRepository) FindByProcessedMessage(
	ctx context.Context,
	tenantID string,
	channel models.ChannelType,
	channelUserID, messageID string,
) (*models.ChatSession, error) {
	if messageID == "" {
		return nil, persistence.ErrSessionNotFound
	}

	return sr.latest(ctx, tenantID, channel, channelUserID, func(session *models.ChatSession) bool {
		return session.HasProcessed(messageID)
	})
}

// latest returns the newest session of the identity accepted by match.
func (sr *SessionRepository) latest(
	ctx context.Context,
	tenantID string,
	channel models.ChannelType,
	channelUserID string,
	match func(*models.ChatSession) bool,
) (*models.ChatSession, error) {
	sessions, err := sr.all(ctx)
	if err != nil {
		return nil, err
	}

	var found *models.ChatSession

	for _, session := range sessions {
		if session.TenantID != tenantID || session.Channel != channel || session.ChannelUserID != channelUserID {
			continue
		}

		if !match(session) {
			continue
		}

		if found == nil || session.CreatedAt.After(found.CreatedAt) {
			found = session
		}
	}

	if found == nil {
		return nil, persistence.ErrSessionNotFound
	}

	return found, nil
}

func (sr *SessionRepository) List(ctx context.Context, opts persistence.ListSessionsOptions) ([]*models.ChatSession, error) {
	sessions, err := sr.all(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.ChatSession, 0, len(sessions))

	for _, session := range sessions {
		if opts.TenantID != "" && session.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != "" && session.Status != opts.Status {
			continue
		}

		if opts.Queue != "" && session.Queue != opts.Queue {
			continue
		}

		filtered = append(filtered, session)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	return filtered, nil
}

func (sr *SessionRepository) all(ctx context.Context) ([]*models.ChatSession, error) {
	ids, err := listIDs(sr.dir)
	if err != nil {
		return nil, err
	}

	sessions := make([]*models.ChatSession, 0, len(ids))

	for _, id := range ids {
		session, err := sr.GetByID(ctx, id)
		if err != nil {
			if persistence.IsSessionNotFound(err) {
				continue
			}

			return nil, err
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}
