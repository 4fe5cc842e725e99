package mocks

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockFlowRepository is a mock implementation of persistence.FlowRepository interface.
type MockFlowRepository struct {
	mock.Mock
}

func (m *MockFlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	args := m.Called(ctx, flow)

	return args.Error(0)
}

func (m *MockFlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Flow, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockSessionRepository is a mock implementation of persistence.SessionRepository interface.
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.ChatSession) error {
	args := m.Called(ctx, session)

	return args.Error(0)
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.ChatSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockSessionRepository) Save(ctx context.Context, session *models.ChatSession) error {
	args := m.Called(ctx, session)

	return args.Error(0)
}

func (m *MockSessionRepository) FindOpenByIdentity(
	ctx context.Context,
	tenantID string,
	channel models.ChannelType,
	channelUserID string,
) (*models.ChatSession, error) {
	args := m.Called(ctx, tenantID, channel, channelUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockSessionRepository) FindByProcessedMessage(
	ctx context.Context,
	tenantID string,
	channel models.ChannelType,
	channelUserID, messageID string,
) (*models.ChatSession, error) {
	args := m.Called(ctx, tenantID, channel, channelUserID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockSessionRepository) List(ctx context.Context, opts persistence.ListSessionsOptions) ([]*models.ChatSession, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ChatSession), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence
// interface. Repositories left nil panic when used.
type MockPersistence struct {
	mock.Mock

	Flows     *MockFlowRepository
	Sessions  *MockSessionRepository
	Templates persistence.TemplateRepository
	Schedules persistence.ScheduleRepository
	Channels  persistence.ChannelConfigRepository
	Agents    persistence.AgentRepository
}

// NewMockPersistence creates a MockPersistence with mock flow and session
// repositories.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Flows:    &MockFlowRepository{},
		Sessions: &MockSessionRepository{},
	}
}

func (m *MockPersistence) FlowRepository() persistence.FlowRepository {
	return m.Flows
}

func (m *MockPersistence) SessionRepository() persistence.SessionRepository {
	return m.Sessions
}

func (m *MockPersistence) TemplateRepository() persistence.TemplateRepository {
	return m.Templates
}

func (m *MockPersistence) ScheduleRepository() persistence.ScheduleRepository {
	return m.Schedules
}

func (m *MockPersistence) ChannelConfigRepository() persistence.ChannelConfigRepository {
	return m.Channels
}

func (m *MockPersistence) AgentRepository() persistence.AgentRepository {
	return m.Agents
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
