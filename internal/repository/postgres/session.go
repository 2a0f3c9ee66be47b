package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts the session; an existing session id is left untouched
func (r *SessionRepository) Create(ctx context.Context, session *domain.ChatSession) error {
	query := `
		INSERT INTO chat_sessions (session_id, user_id, agent_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		string(session.AgentID),
		session.Title,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id, userID string) (*domain.ChatSession, error) {
	query := `
		SELECT session_id, user_id, agent_id, title, last_message_preview, created_at, updated_at
		FROM chat_sessions
		WHERE session_id = $1 AND user_id = $2
	`
	var s domain.ChatSession
	var agentID string
	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&s.ID,
		&s.UserID,
		&agentID,
		&s.Title,
		&s.LastMessagePreview,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.AgentID = domain.AgentMode(agentID)
	return &s, nil
}

// ListByUser returns the user's sessions, most recently active first.
// An empty agentID lists every mode.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, agentID domain.AgentMode) ([]domain.ChatSession, error) {
	query := `
		SELECT session_id, user_id, agent_id, title, last_message_preview, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1 AND ($2 = '' OR agent_id = $2)
		ORDER BY updated_at DESC, created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID, string(agentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		var s domain.ChatSession
		var mode string
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&mode,
			&s.Title,
			&s.LastMessagePreview,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.AgentID = domain.AgentMode(mode)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes the session; its messages go with it via ON DELETE CASCADE
func (r *SessionRepository) Delete(ctx context.Context, id, userID string) error {
	query := `DELETE FROM chat_sessions WHERE session_id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
