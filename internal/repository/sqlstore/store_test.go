package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Rrens/sales-copilot/internal/repository/sqlstore"
	"github.com/Rrens/sales-copilot/internal/repository/storetest"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s, s)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := sqlstore.OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// schema creation must tolerate an existing database
	s, err = sqlstore.OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

// Set TEST_MYSQL_DSN to run against a disposable database, e.g.
// copilot:copilot@tcp(localhost:3306)/copilot_test
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}

	s, err := sqlstore.OpenMySQL(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s, s)
}
