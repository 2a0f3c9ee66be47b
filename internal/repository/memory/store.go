// Package memory is a process-local session store for tests and the CLI's
// --ephemeral mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Rrens/sales-copilot/internal/domain"
)

// Store keeps sessions and their messages in maps. It is safe for
// concurrent use; returned values are copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ChatSession
	messages map[string][]domain.Message
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*domain.ChatSession),
		messages: make(map[string][]domain.Message),
	}
}

func (s *Store) Create(ctx context.Context, session *domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return nil
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, id, userID string) (*domain.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.ownedLocked(id, userID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, agentID domain.AgentMode) ([]domain.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.ChatSession{}
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		if agentID != "" && sess.AgentID != agentID {
			continue
		}
		out = append(out, *sess)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ownedLocked(id, userID); !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) Append(ctx context.Context, message *domain.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.ownedLocked(message.SessionID, message.UserID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.messages[message.SessionID] = append(s.messages[message.SessionID], *message)
	if message.CreatedAt.After(sess.UpdatedAt) {
		sess.UpdatedAt = message.CreatedAt
	}
	sess.LastMessagePreview = domain.PreviewFromContent(message.Content)
	return nil
}

// ListBySession returns messages ordered by created_at, ties in append order
func (s *Store) ListBySession(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.ownedLocked(sessionID, userID); !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]domain.Message, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ownedLocked looks up a session belonging to userID; caller holds the lock
func (s *Store) ownedLocked(id, userID string) (*domain.ChatSession, bool) {
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, false
	}
	return sess, true
}
