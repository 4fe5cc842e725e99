package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Flow manages flow drafts and their published snapshots.
type Flow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	now         func() time.Time
}

// NewFlow creates a new flow service.
func NewFlow(persistence persistence.Persistence) *Flow {
	return &Flow{
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create stores a new flow with the given draft.
func (f *Flow) Create(ctx context.Context, tenantID, name string, draft models.FlowGraph) (*models.Flow, error) {
	now := f.now()

	flow := &models.Flow{
		ID:        uuid.NewString(),
		TenantID:  strings.TrimSpace(tenantID),
		Name:      strings.TrimSpace(name),
		Draft:     draft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := f.validateFlow(flow); err != nil {
		return nil, err
	}

	if err := f.persistence.FlowRepository().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return flow, nil
}

// Get returns a flow by id.
func (f *Flow) Get(ctx context.Context, id string) (*models.Flow, error) {
	return f.persistence.FlowRepository().GetByID(ctx, id)
}

// List returns the tenant's flows.
func (f *Flow) List(ctx context.Context, tenantID string) ([]*models.Flow, error) {
	return f.persistence.FlowRepository().ListByTenant(ctx, tenantID)
}

// Delete removes a flow. Sessions already running keep their flow id and
// stop advancing once the flow is gone.
func (f *Flow) Delete(ctx context.Context, id string) error {
	return f.persistence.FlowRepository().Delete(ctx, id)
}

// UpdateDraft replaces the draft graph and optionally renames the flow. The
// published snapshot is left untouched.
func (f *Flow) UpdateDraft(ctx context.Context, id, name string, draft models.FlowGraph) (*models.Flow, error) {
	flow, err := f.persistence.FlowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if name = strings.TrimSpace(name); name != "" {
		flow.Name = name
	}

	flow.Draft = draft
	flow.UpdatedAt = f.now()

	if err := f.validateFlow(flow); err != nil {
		return nil, err
	}

	if err := f.persistence.FlowRepository().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return flow, nil
}

// Publish validates the draft and copies it into the executable snapshot.
func (f *Flow) Publish(ctx context.Context, id string) (*models.Flow, error) {
	flow, err := f.persistence.FlowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := ValidateGraph(&flow.Draft); err != nil {
		return nil, fmt.Errorf("flow validation failed: %w", err)
	}

	snapshot, err := cloneGraph(&flow.Draft)
	if err != nil {
		return nil, err
	}

	now := f.now()
	flow.Published = snapshot
	flow.PublishedAt = &now
	flow.UpdatedAt = now

	if err := f.persistence.FlowRepository().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to publish flow: %w", err)
	}

	return flow, nil
}

func (f *Flow) validateFlow(flow *models.Flow) error {
	if flow.Name == "" {
		return ErrFlowNameRequired
	}

	if err := f.validate.Struct(flow); err != nil {
		return NewValidationError("validateFlow", "INVALID_FLOW", err.Error(), ErrInvalidRequest)
	}

	return nil
}

// ValidateGraph checks that a graph can execute: one start node, known
// node types with valid data, unique node ids, edges between existing
// nodes and goto targets that exist as anchors.
func ValidateGraph(graph *models.FlowGraph) error {
	var (
		errs    []error
		starts  int
		ids     = make(map[string]bool, len(graph.Nodes))
		anchors = make(map[string]bool)
	)

	for _, node := range graph.Nodes {
		if ids[node.ID] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID))
		}

		ids[node.ID] = true

		switch node.Type {
		case models.NodeTypeStart:
			starts++
		case models.NodeTypeAnchor:
			anchors[node.String("anchorName")] = true
		}

		if !node.Type.IsKnown() {
			errs = append(errs, fmt.Errorf("%w: %s (node %s)", ErrUnknownNodeType, node.Type, node.ID))

			continue
		}

		if err := validateNodeData(node); err != nil {
			errs = append(errs, err)
		}
	}

	if starts != 1 {
		errs = append(errs, fmt.Errorf("%w: found %d", ErrStartNodeRequired, starts))
	}

	for _, edge := range graph.Edges {
		if !ids[edge.Source] || !ids[edge.Target] {
			errs = append(errs, fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, edge.Source, edge.Target))
		}
	}

	for _, node := range graph.Nodes {
		if node.Type == models.NodeTypeGoto && !anchors[node.String("anchorName")] {
			errs = append(errs, fmt.Errorf("%w: %q (node %s)", ErrUnknownAnchor, node.String("anchorName"), node.ID))
		}
	}

	return errors.Join(errs...)
}

// cloneGraph deep-copies a graph so the published snapshot shares no maps
// with the draft.
func cloneGraph(graph *models.FlowGraph) (*models.FlowGraph, error) {
	data, err := json.Marshal(graph)
	if err != nil {
		return nil, fmt.Errorf("failed to copy flow graph: %w", err)
	}

	var snapshot models.FlowGraph
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to copy flow graph: %w", err)
	}

	return &snapshot, nil
}
