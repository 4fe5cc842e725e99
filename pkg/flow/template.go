package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// ResolveTemplate looks a template up in the tenant store, then in the
// global store.
func ResolveTemplate(ctx context.Context, store TemplateStore, tenantID, id string) (*models.Template, error) {
	if store == nil {
		return nil, fmt.Errorf("no template store configured: %w", persistence.ErrTemplateNotFound)
	}

	if id == "" {
		return nil, fmt.Errorf("node has no templateId: %w", persistence.ErrTemplateNotFound)
	}

	if tenantID != "" {
		template, err := store.Get(ctx, tenantID, id)
		if err == nil {
			return template, nil
		}

		if !errors.Is(err, persistence.ErrTemplateNotFound) {
			return nil, err
		}
	}

	return store.Get(ctx, "", id)
}
