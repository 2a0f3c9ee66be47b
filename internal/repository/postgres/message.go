package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Append inserts a message and bumps the owning session's activity
func (r *MessageRepository) Append(ctx context.Context, message *domain.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE chat_sessions
			SET updated_at = GREATEST(updated_at, $1), last_message_preview = $2
			WHERE session_id = $3 AND user_id = $4
		`, message.CreatedAt, domain.PreviewFromContent(message.Content), message.SessionID, message.UserID)
		if err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrSessionNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO chat_messages (id, session_id, user_id, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, message.ID, message.SessionID, message.UserID, string(message.Role), message.Content, message.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return nil
	})
}

// ListBySession retrieves a session's messages in append order
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE session_id = $1 AND user_id = $2)`,
		sessionID, userID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	query := `
		SELECT id, session_id, user_id, role, content, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
