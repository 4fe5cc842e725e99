package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// FlowRepository handles flow-related file operations.
type FlowRepository struct {
	dir string
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{dir: filepath.Join(root, "flows")}
}

func (fr *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	if err := writeJSON(fr.dir, flow.ID, flow); err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

func (fr *FlowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	var flow models.Flow

	if err := readJSON(fr.dir, id, &flow, persistence.ErrFlowNotFound); err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return &flow, nil
}

func (fr *FlowRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Flow, error) {
	ids, err := listIDs(fr.dir)
	if err != nil {
		return nil, err
	}

	flows := make([]*models.Flow, 0, len(ids))

	for _, id := range ids {
		flow, err := fr.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if tenantID == "" || flow.TenantID == tenantID {
			flows = append(flows, flow)
		}
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})

	return flows, nil
}

func (fr *FlowRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	err := os.Remove(filepath.Join(fr.dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
		}

		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}

	return nil
}
