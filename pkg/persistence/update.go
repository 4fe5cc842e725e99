package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
)

// DefaultUpdateAttempts bounds the optimistic retry loop of UpdateSession.
const DefaultUpdateAttempts = 5

// UpdateSession runs a read-modify-write against a single session record.
// mutate is called with a freshly loaded copy on every attempt, so any
// external call it makes runs again on a version conflict unless the caller
// memoizes it across attempts (the chat service does this for httpRequest
// nodes). Returning an error from mutate aborts the update without writing.
func UpdateSession(
	ctx context.Context,
	repo SessionRepository,
	sessionID string,
	mutate func(session *models.ChatSession) error,
) (*models.ChatSession, error) {
	var lastErr error

	for range DefaultUpdateAttempts {
		session, err := repo.GetByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		if err := mutate(session); err != nil {
			return nil, err
		}

		err = repo.Save(ctx, session)
		if err == nil {
			return session, nil
		}

		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, NewSessionError("Update", sessionID, fmt.Errorf("gave up after %d attempts: %w", DefaultUpdateAttempts, lastErr))
}
