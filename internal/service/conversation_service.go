package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/sales-copilot/internal/agent"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/security"
)

// Invoker runs one agent invocation, streaming events until it returns
type Invoker interface {
	Invoke(ctx context.Context, req agent.Request, events chan<- domain.StreamEvent) (*agent.Result, error)
}

// ModeResolver checks that an agent mode has a configured runtime
type ModeResolver interface {
	Resolve(mode domain.AgentMode) (string, error)
}

// ConversationService creates conversations and exposes the session store
type ConversationService struct {
	sessions domain.SessionRepository
	messages domain.MessageRepository
	invoker  Invoker
	modes    ModeResolver

	now   func() time.Time
	newID func() string
}

// NewConversationService creates a new conversation service
func NewConversationService(
	sessions domain.SessionRepository,
	messages domain.MessageRepository,
	invoker Invoker,
	modes ModeResolver,
) *ConversationService {
	return &ConversationService{
		sessions: sessions,
		messages: messages,
		invoker:  invoker,
		modes:    modes,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    security.NewSessionID,
	}
}

// NewConversation starts an empty conversation with a fresh session id.
// Nothing is stored until the first turn.
func (s *ConversationService) NewConversation(userID string, mode domain.AgentMode) *Conversation {
	return newConversation(s, userID, mode, s.newID())
}

// LoadConversation resumes a stored session with its transcript
func (s *ConversationService) LoadConversation(ctx context.Context, userID, sessionID string) (*Conversation, error) {
	sess, err := s.sessions.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, storeError("failed to get session", err)
	}
	history, err := s.messages.ListBySession(ctx, sessionID, userID)
	if err != nil {
		return nil, storeError("failed to load messages", err)
	}

	c := newConversation(s, userID, sess.AgentID, sess.ID)
	c.sessionCreated = true
	for _, m := range history {
		c.transcript = append(c.transcript, TranscriptEntry{Role: m.Role, Content: m.Content})
		if m.CreatedAt.After(c.lastAt) {
			c.lastAt = m.CreatedAt
		}
	}
	return c, nil
}

// ListSessions returns the user's sessions, newest activity first
func (s *ConversationService) ListSessions(ctx context.Context, userID string, mode domain.AgentMode) ([]domain.ChatSession, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID, mode)
	if err != nil {
		return nil, storeError("failed to list sessions", err)
	}
	return sessions, nil
}

// History returns a session's messages in append order
func (s *ConversationService) History(ctx context.Context, userID, sessionID string) ([]domain.Message, error) {
	messages, err := s.messages.ListBySession(ctx, sessionID, userID)
	if err != nil {
		return nil, storeError("failed to list messages", err)
	}
	return messages, nil
}

// DeleteSession removes a session and all of its messages
func (s *ConversationService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID, userID); err != nil {
		return storeError("failed to delete session", err)
	}
	return nil
}

// storeError keeps not-found and validation errors as they are and marks
// everything else as a persistence failure
func storeError(msg string, err error) error {
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrInvalidMessage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, msg, err)
}
