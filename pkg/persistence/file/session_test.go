package file

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id, userID string, createdAt time.Time) *models.ChatSession {
	return models.NewChatSession(id, "tenant-1", "flow-1", models.ChannelTelegram, userID, userID, createdAt)
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewSessionRepository(t.TempDir())

	session := newSession("s-1", "42", time.Now().UTC())
	session.Vars["nome"] = "Ana"
	require.NoError(t, repo.Create(ctx, session))
	assert.Equal(t, int64(1), session.Version)

	loaded, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", loaded.Vars["nome"])
	assert.Equal(t, models.SessionStatusActive, loaded.Status)

	err = repo.Create(ctx, newSession("s-1", "42", time.Now()))
	require.ErrorIs(t, err, persistence.ErrSessionAlreadyExists)

	_, err = repo.GetByID(ctx, "unknown")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)

	_, err = repo.GetByID(ctx, "../etc/passwd")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func TestSessionRepository_SaveIsCompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewSessionRepository(t.TempDir())
	require.NoError(t, repo.Create(ctx, newSession("s-1", "42", time.Now().UTC())))

	first, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)

	first.Vars["winner"] = "first"
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Vars["winner"] = "second"
	err = repo.Save(ctx, second)
	require.ErrorIs(t, err, persistence.ErrVersionConflict)

	stored, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Vars["winner"])
	assert.Equal(t, int64(2), stored.Version)
}

func TestUpdateSession_RetriesOnConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewSessionRepository(t.TempDir())
	require.NoError(t, repo.Create(ctx, newSession("s-1", "42", time.Now().UTC())))

	attempts := 0
	updated, err := persistence.UpdateSession(ctx, repo, "s-1", func(session *models.ChatSession) error {
		attempts++

		if attempts == 1 {
			// A concurrent writer lands between our read and our write.
			concurrent, err := repo.GetByID(ctx, "s-1")
			require.NoError(t, err)
			concurrent.Vars["concurrent"] = true
			require.NoError(t, repo.Save(ctx, concurrent))
		}

		session.Vars["counter"] = attempts

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(3), updated.Version)

	stored, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, true, stored.Vars["concurrent"])
	assert.InDelta(t, 2, stored.Vars["counter"], 0)
}

func TestSessionRepository_FindOpenByIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewSessionRepository(t.TempDir())
	base := time.Now().UTC()

	closed := newSession("old", "42", base.Add(-time.Hour))
	closed.Close(base)
	require.NoError(t, repo.Create(ctx, closed))

	_, err := repo.FindOpenByIdentity(ctx, "tenant-1", models.ChannelTelegram, "42")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound, "closed sessions are never reopened")

	require.NoError(t, repo.Create(ctx, newSession("current", "42", base)))
	require.NoError(t, repo.Create(ctx, newSession("other-user", "43", base)))

	found, err := repo.FindOpenByIdentity(ctx, "tenant-1", models.ChannelTelegram, "42")
	require.NoError(t, err)
	assert.Equal(t, "current", found.ID)

	_, err = repo.FindOpenByIdentity(ctx, "tenant-1", models.ChannelWhatsApp, "42")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func TestSessionRepository_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewSessionRepository(t.TempDir())
	base := time.Now().UTC()

	waiting := newSession("w", "1", base)
	require.NoError(t, waiting.EnqueueForAgent("SUPPORT", "", false, base))
	require.NoError(t, repo.Create(ctx, waiting))
	require.NoError(t, repo.Create(ctx, newSession("a", "2", base.Add(time.Second))))

	sessions, err := repo.List(ctx, persistence.ListSessionsOptions{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID, "newest first")

	sessions, err = repo.List(ctx, persistence.ListSessionsOptions{Status: models.SessionStatusWaiting, Queue: "SUPPORT"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "w", sessions[0].ID)

	sessions, err = repo.List(ctx, persistence.ListSessionsOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSessionRepository_CreateRejectsSecondOpenSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewSessionRepository(t.TempDir())
	base := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newSession("first", "42", base)))

	err := repo.Create(ctx, newSession("second", "42", base))
	require.ErrorIs(t, err, persistence.ErrSessionAlreadyExists)

	closed := newSession("history", "42", base.Add(-time.Hour))
	closed.Close(base)
	require.NoError(t, repo.Create(ctx, closed), "closed sessions do not count as open")

	require.NoError(t, repo.Create(ctx, newSession("other-user", "43", base)))
}

func TestSessionRepository_FindByProcessedMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewSessionRepository(t.TempDir())
	base := time.Now().UTC()

	closed := newSession("closed", "42", base)
	closed.MarkProcessed("wamid-1")
	closed.Close(base)
	require.NoError(t, repo.Create(ctx, closed))

	found, err := repo.FindByProcessedMessage(ctx, "tenant-1", models.ChannelTelegram, "42", "wamid-1")
	require.NoError(t, err)
	assert.Equal(t, "closed", found.ID, "closed sessions still answer for their messages")

	_, err = repo.FindByProcessedMessage(ctx, "tenant-1", models.ChannelTelegram, "42", "wamid-2")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)

	_, err = repo.FindByProcessedMessage(ctx, "tenant-1", models.ChannelTelegram, "43", "wamid-1")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)

	_, err = repo.FindByProcessedMessage(ctx, "tenant-1", models.ChannelTelegram, "42", "")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}
