package sqlstore

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
)

type dialect struct {
	name         string
	driver       string
	insertIgnore string
	greatest     string
	schema       []string
}

var sqliteDialect = dialect{
	name:         "sqlite",
	driver:       "sqlite",
	insertIgnore: "INSERT OR IGNORE",
	greatest:     "MAX",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			last_message_preview TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_agent ON chat_sessions (user_id, agent_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages (session_id, created_at, seq)`,
	},
}

var mysqlDialect = dialect{
	name:         "mysql",
	driver:       "mysql",
	insertIgnore: "INSERT IGNORE",
	greatest:     "GREATEST",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			session_id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			agent_id VARCHAR(64) NOT NULL,
			title VARCHAR(255) NOT NULL DEFAULT '',
			last_message_preview TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_chat_sessions_user_agent (user_id, agent_id, updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id CHAR(36) NOT NULL UNIQUE,
			session_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			role VARCHAR(16) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_chat_messages_session (session_id, created_at, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}

// mysqlDSN makes UPDATE report matched rather than changed rows, which
// Append relies on to detect a missing session.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}
