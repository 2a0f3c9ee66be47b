package domain

import (
	"context"
	"time"
)

// AgentMode identifies which conversational agent owns a session
type AgentMode string

const (
	AgentPreCall  AgentMode = "pre-call"
	AgentPostCall AgentMode = "post-call"
)

// ChatSession represents a durable, user-and-mode scoped conversation
type ChatSession struct {
	ID                 string    `json:"session_id"`
	UserID             string    `json:"user_id"`
	AgentID            AgentMode `json:"agent_id"`
	Title              string    `json:"title"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SessionRepository defines the interface for session storage.
// Create must be idempotent on a duplicate session ID.
type SessionRepository interface {
	Create(ctx context.Context, session *ChatSession) error
	Get(ctx context.Context, id, userID string) (*ChatSession, error)
	ListByUser(ctx context.Context, userID string, agentID AgentMode) ([]ChatSession, error)
	Delete(ctx context.Context, id, userID string) error
}

const (
	titleMaxRunes   = 50
	previewMaxRunes = 500
)

// TitleFromPrompt derives a session title from the first user prompt
func TitleFromPrompt(prompt string) string {
	r := []rune(prompt)
	if len(r) <= titleMaxRunes {
		return prompt
	}
	return string(r[:titleMaxRunes]) + "..."
}

// PreviewFromContent truncates message content for the session listing
func PreviewFromContent(content string) string {
	r := []rune(content)
	if len(r) <= previewMaxRunes {
		return content
	}
	return string(r[:previewMaxRunes])
}
