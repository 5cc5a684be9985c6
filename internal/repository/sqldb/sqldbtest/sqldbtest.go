// Package sqldbtest opens throwaway databases for tests.
package sqldbtest

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"noria-api/internal/config"
	"noria-api/internal/repository/sqldb"
)

// PostgresURLEnv names the DSN used by NewPostgres.
const PostgresURLEnv = "NORIA_TEST_POSTGRES_URL"

// New returns a migrated in-memory database that is closed when t finishes.
func New(t testing.TB) *sqldb.DB {
	t.Helper()

	db, err := sqldb.Open(config.DatabaseConfig{
		URL:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		Driver: config.DriverSQLite,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// NewPostgres returns a migrated Postgres database with a real connection
// pool, or skips t when NORIA_TEST_POSTGRES_URL is unset. Tests share the
// database, so they must use unique emails.
func NewPostgres(t testing.TB) *sqldb.DB {
	t.Helper()

	url := os.Getenv(PostgresURLEnv)
	if url == "" {
		t.Skipf("%s not set", PostgresURLEnv)
	}

	db, err := sqldb.Open(config.DatabaseConfig{
		URL:      url,
		Driver:   config.DriverPostgres,
		MaxConns: 20,
		MaxIdle:  10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}
