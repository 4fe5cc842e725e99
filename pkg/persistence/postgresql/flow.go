package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// Save upserts a flow, keeping the original creation time.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	draft, err := json.Marshal(flow.Draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}

	var published []byte
	if flow.Published != nil {
		published, err = json.Marshal(flow.Published)
		if err != nil {
			return fmt.Errorf("failed to marshal published graph: %w", err)
		}
	}

	query := `
		INSERT INTO flows (id, tenant_id, name, draft, published, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			draft = EXCLUDED.draft,
			published = EXCLUDED.published,
			published_at = EXCLUDED.published_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID, flow.TenantID, flow.Name, draft, nullableJSON(published),
		flow.PublishedAt, flow.CreatedAt, flow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , name
		  , draft
		  , published
		  , published_at
		  , created_at
		  , updated_at
		FROM flows
		WHERE id = $1
	`

	flow, err := scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return flow, nil
}

func (r *FlowRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Flow, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , name
		  , draft
		  , published
		  , published_at
		  , created_at
		  , updated_at
		FROM flows
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM flows WHERE id = $1", id)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*models.Flow, error) {
	var (
		flow        models.Flow
		draft       []byte
		published   []byte
		publishedAt sql.NullTime
	)

	err := row.Scan(
		&flow.ID, &flow.TenantID, &flow.Name, &draft, &published,
		&publishedAt, &flow.CreatedAt, &flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(draft, &flow.Draft); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft: %w", err)
	}

	if len(published) > 0 {
		flow.Published = &models.FlowGraph{}
		if err := json.Unmarshal(published, flow.Published); err != nil {
			return nil, fmt.Errorf("failed to unmarshal published graph: %w", err)
		}
	}

	if publishedAt.Valid {
		flow.PublishedAt = &publishedAt.Time
	}

	return &flow, nil
}

func nullableJSON(data []byte) any {
	if data == nil {
		return nil
	}

	return data
}
