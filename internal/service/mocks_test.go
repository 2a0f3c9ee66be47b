package service

import (
	"context"
	"fmt"

	"github.com/Rrens/sales-copilot/internal/agent"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockSessionRepository mocks the SessionRepository interface
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.ChatSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, id, userID string) (*domain.ChatSession, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatSession), args.Error(1)
}

func (m *MockSessionRepository) ListByUser(ctx context.Context, userID string, agentID domain.AgentMode) ([]domain.ChatSession, error) {
	args := m.Called(ctx, userID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ChatSession), args.Error(1)
}

func (m *MockSessionRepository) Delete(ctx context.Context, id, userID string) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Append(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) ListBySession(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

// MockInvoker mocks the agent client. Tests stream events from a Run hook
// through args.Get(2); the channel is closed after the hook returns.
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, req agent.Request, events chan<- domain.StreamEvent) (*agent.Result, error) {
	defer close(events)
	args := m.Called(ctx, req, events)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agent.Result), args.Error(1)
}

// staticModes resolves a fixed set of modes
type staticModes map[domain.AgentMode]string

func (s staticModes) Resolve(mode domain.AgentMode) (string, error) {
	url, ok := s[mode]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrAgentNotConfigured, mode)
	}
	return url, nil
}

// stream returns a Run hook that emits evs in order
func stream(evs ...domain.StreamEvent) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ch := args.Get(2).(chan<- domain.StreamEvent)
		for _, ev := range evs {
			ch <- ev
		}
	}
}

func content(s string) domain.StreamEvent {
	return domain.StreamEvent{Kind: domain.EventContent, Text: s}
}

func logLine(s string) domain.StreamEvent {
	return domain.StreamEvent{Kind: domain.EventLog, Text: s}
}
