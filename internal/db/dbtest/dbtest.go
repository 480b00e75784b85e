// Package dbtest opens migrated databases for package tests.
package dbtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"jokes/internal/db"
)

// Open returns a migrated sqlite database living in the test's temp dir.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	conn, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "db open")
	t.Cleanup(func() { conn.Close() })
	return conn
}

// OpenPostgres returns a migrated, emptied postgres database, or skips the
// test when TEST_POSTGRES_DSN is not set.
func OpenPostgres(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	conn, err := db.Open(db.DriverPostgres, dsn)
	require.NoError(t, err, "db open")
	_, err = conn.Exec(`TRUNCATE comments, ratings, views, posts, sessions, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err, "truncate")
	t.Cleanup(func() { conn.Close() })
	return conn
}
