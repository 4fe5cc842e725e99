package mocks

import (
	"context"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus records lifecycle events published by the chat service.
type MockEventBus struct {
	mock.Mock
}

// ExpectPublish accepts any event of the given type.
func (m *MockEventBus) ExpectPublish(eventType events.EventType) *mock.Call {
	return m.On("Publish", mock.Anything, mock.Anything, mock.MatchedBy(func(event eventbus.Event) bool {
		return event.GetType() == eventType
	}))
}

// Published returns the published events grouped by type, in order.
func (m *MockEventBus) Published() map[events.EventType][]eventbus.Event {
	published := make(map[events.EventType][]eventbus.Event)

	for _, call := range m.Calls {
		if call.Method != "Publish" {
			continue
		}

		event, ok := call.Arguments.Get(2).(eventbus.Event)
		if ok {
			published[event.GetType()] = append(published[event.GetType()], event)
		}
	}

	return published
}

func (m *MockEventBus) Publish(ctx context.Context, sessionID string, event eventbus.Event) error {
	args := m.Called(ctx, sessionID, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	return m.Called().Error(0)
}

func (m *MockEventBus) GenerateID() string {
	return m.Called().String(0)
}
