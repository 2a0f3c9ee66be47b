package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rrens/sales-copilot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Agent.CallTimeout)
	assert.Equal(t, 60*time.Second, cfg.Agent.ChunkTimeout)
	assert.Equal(t, 3300*time.Second, cfg.Credential.TTL)
	assert.Equal(t, 300*time.Second, cfg.Credential.RefreshBuffer)
	assert.Contains(t, cfg.Agent.CredentialRejectedPhrases, "ineffectual token")
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
agent:
  endpoints:
    pre-call: http://agents.local/pre/invocations
  chunk_timeout: 5s
store:
  driver: sqlite
  sqlite:
    path: /tmp/chat.db
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("POST_CALL_AGENT_URL", "http://agents.local/post/invocations")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "http://agents.local/pre/invocations", cfg.Agent.Endpoints["pre-call"])
	assert.Equal(t, "http://agents.local/post/invocations", cfg.Agent.Endpoints["post-call"])
	assert.Equal(t, 5*time.Second, cfg.Agent.ChunkTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/chat.db", cfg.Store.SQLite.Path)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}
