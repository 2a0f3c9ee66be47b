package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether the role is accepted by the session store
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents one turn in a session's append-only log
type Message struct {
	ID        uuid.UUID   `json:"id"`
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id,omitempty"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewMessage builds a message ready to be appended
func NewMessage(sessionID, userID string, role MessageRole, content string, at time.Time) *Message {
	return &Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

// Validate checks the fields every store requires
func (m *Message) Validate() error {
	if m.SessionID == "" || m.Content == "" {
		return fmt.Errorf("%w: session_id and content are required", ErrInvalidMessage)
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: role must be one of user, assistant, system", ErrInvalidMessage)
	}
	return nil
}

// MessageRepository defines the interface for message storage.
// ListBySession returns messages oldest first.
type MessageRepository interface {
	Append(ctx context.Context, message *Message) error
	ListBySession(ctx context.Context, sessionID, userID string) ([]Message, error)
}
