// Package sqlstore implements the session store on database/sql for SQLite
// and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/sales-copilot/internal/domain"
	_ "modernc.org/sqlite"
)

// Store implements domain.SessionRepository and domain.MessageRepository
type Store struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens (creating if needed) a SQLite database file
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer at a time avoids SQLITE_BUSY under concurrent appends
	db.SetMaxOpenConns(1)
	return newStore(ctx, db, sqliteDialect)
}

// OpenMySQL connects to MySQL with the given DSN
func OpenMySQL(ctx context.Context, dsn string) (*Store, error) {
	dsn, err := mysqlDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(mysqlDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return newStore(ctx, db, mysqlDialect)
}

func newStore(ctx context.Context, db *sql.DB, d dialect) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", d.name, err)
	}
	s := &Store{db: db, dialect: d}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Create(ctx context.Context, session *domain.ChatSession) error {
	query := s.dialect.insertIgnore + ` INTO chat_sessions
		(session_id, user_id, agent_id, title, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		string(session.AgentID),
		session.Title,
		toMicros(session.CreatedAt),
		toMicros(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id, userID string) (*domain.ChatSession, error) {
	query := `
		SELECT session_id, user_id, agent_id, title, COALESCE(last_message_preview, ''), created_at, updated_at
		FROM chat_sessions
		WHERE session_id = ? AND user_id = ?`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, agentID domain.AgentMode) ([]domain.ChatSession, error) {
	query := `
		SELECT session_id, user_id, agent_id, title, COALESCE(last_message_preview, ''), created_at, updated_at
		FROM chat_sessions
		WHERE user_id = ? AND (? = '' OR agent_id = ?)
		ORDER BY updated_at DESC, created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, userID, string(agentID), string(agentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes the session and its messages in one transaction
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrSessionNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		return nil
	})
}

func (s *Store) Append(ctx context.Context, message *domain.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		touch := `UPDATE chat_sessions
			SET updated_at = ` + s.dialect.greatest + `(updated_at, ?), last_message_preview = ?
			WHERE session_id = ? AND user_id = ?`
		res, err := tx.ExecContext(ctx, touch,
			toMicros(message.CreatedAt),
			domain.PreviewFromContent(message.Content),
			message.SessionID,
			message.UserID,
		)
		if err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrSessionNotFound
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, session_id, user_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			message.ID.String(),
			message.SessionID,
			message.UserID,
			string(message.Role),
			message.Content,
			toMicros(message.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return nil
	})
}

func (s *Store) ListBySession(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, role, content, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role string
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		m.CreatedAt = fromMicros(created)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	var mode string
	var created, updated int64
	if err := row.Scan(&sess.ID, &sess.UserID, &mode, &sess.Title, &sess.LastMessagePreview, &created, &updated); err != nil {
		return nil, err
	}
	sess.AgentID = domain.AgentMode(mode)
	sess.CreatedAt = fromMicros(created)
	sess.UpdatedAt = fromMicros(updated)
	return &sess, nil
}

// timestamps are stored as unix microseconds so both engines order them alike
func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
