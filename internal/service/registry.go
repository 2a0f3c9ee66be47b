package service

import (
	"context"
	"sync"
	"time"

	"github.com/Rrens/sales-copilot/internal/domain"
)

// Registry keeps live conversations for the HTTP server so that a session's
// transcript and pending creation survive between requests.
type Registry struct {
	svc *ConversationService

	mu      sync.Mutex
	entries map[string]*registryEntry
	now     func() time.Time
}

type registryEntry struct {
	conv     *Conversation
	lastUsed time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(svc *ConversationService) *Registry {
	return &Registry{
		svc:     svc,
		entries: make(map[string]*registryEntry),
		now:     time.Now,
	}
}

// Open returns the conversation for sessionID, loading it from the store
// when it is not live. An empty sessionID starts a new conversation. An
// unconfigured mode fails with domain.ErrAgentNotConfigured.
func (r *Registry) Open(ctx context.Context, userID string, mode domain.AgentMode, sessionID string) (*Conversation, error) {
	// nothing is registered for a mode that can never run a turn
	if _, err := r.svc.modes.Resolve(mode); err != nil {
		return nil, err
	}

	if sessionID == "" {
		conv := r.svc.NewConversation(userID, mode)
		r.put(conv)
		return conv, nil
	}

	r.mu.Lock()
	if e, ok := r.entries[sessionID]; ok {
		if e.conv.UserID() != userID || e.conv.Mode() != mode || e.conv.State() == StateTerminated {
			r.mu.Unlock()
			return nil, domain.ErrSessionNotFound
		}
		e.lastUsed = r.now()
		r.mu.Unlock()
		return e.conv, nil
	}
	r.mu.Unlock()

	conv, err := r.svc.LoadConversation(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if conv.Mode() != mode {
		return nil, domain.ErrSessionNotFound
	}
	return r.putIfAbsent(conv), nil
}

// Delete terminates the live conversation, if any, and removes the session
// from the store
func (r *Registry) Delete(ctx context.Context, userID, sessionID string) error {
	r.mu.Lock()
	if e, ok := r.entries[sessionID]; ok && e.conv.UserID() == userID {
		e.conv.Terminate()
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()

	return r.svc.DeleteSession(ctx, userID, sessionID)
}

// Sweep drops idle conversations not used within maxIdle. Busy ones stay.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for id, e := range r.entries {
		if e.lastUsed.Before(cutoff) && e.conv.State() == StateIdle {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live conversations
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) put(conv *Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[conv.SessionID()] = &registryEntry{conv: conv, lastUsed: r.now()}
}

// putIfAbsent keeps the first of two concurrent loads
func (r *Registry) putIfAbsent(conv *Conversation) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[conv.SessionID()]; ok {
		e.lastUsed = r.now()
		return e.conv
	}
	r.entries[conv.SessionID()] = &registryEntry{conv: conv, lastUsed: r.now()}
	return conv
}
