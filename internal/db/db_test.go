package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jokes/internal/credit"
	"jokes/internal/db"
	"jokes/internal/models"
)

func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "nested", "jokes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOpenSQLiteMigrates(t *testing.T) {
	conn := openSQLite(t)
	for _, table := range []string{"users", "sessions", "posts", "views", "ratings", "comments"} {
		var n int
		require.NoError(t, conn.Get(&n, `SELECT COUNT(*) FROM `+table), table)
	}

	// a second run finds nothing to do
	require.NoError(t, db.Migrate(conn))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := db.Open("mysql", "whatever")
	assert.Error(t, err)
}

func mkUser(t *testing.T, q models.Queryer, name string, balance int) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := models.CreateUser(ctx, q, models.NewUser{
		Email: name + "@example.com", Nickname: name, PasswordHash: "x",
		HashScheme: "test", Role: models.RoleUser, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetBalance(ctx, q, id, balance))
	return id
}

func TestWithTxCancelRollsBack(t *testing.T) {
	conn := openSQLite(t)
	author := mkUser(t, conn, "author", 0)
	reader := mkUser(t, conn, "reader", 1)
	pid, err := models.CreatePost(context.Background(), conn, author, "t", "b", time.Now())
	require.NoError(t, err)
	post, err := models.GetPost(context.Background(), conn, pid)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	err = db.WithTx(ctx, conn, "unlock then cancel", func(tx *sqlx.Tx) error {
		out, err := credit.TryUnlockView(ctx, tx, reader, post, time.Now())
		require.NoError(t, err)
		require.Equal(t, credit.OutcomeDebited, out)
		cancel()
		return nil
	})
	require.Error(t, err)

	u, err := models.GetUser(context.Background(), conn, reader)
	require.NoError(t, err)
	assert.Equal(t, 1, u.CreditBalance)
	views, err := models.CountViews(context.Background(), conn, pid)
	require.NoError(t, err)
	assert.Zero(t, views)
}

func TestWithTxCancelledBeforeBegin(t *testing.T) {
	conn := openSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.WithTx(ctx, conn, "never runs", func(tx *sqlx.Tx) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestWithTxPanicRollsBack(t *testing.T) {
	conn := openSQLite(t)
	ctx := context.Background()

	err := db.WithTx(ctx, conn, "panicking", func(tx *sqlx.Tx) error {
		mkUser(t, tx, "ghost", 3)
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	n, err := models.CountUsers(ctx, conn)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the connection is usable again
	require.NoError(t, db.WithTx(ctx, conn, "after panic", func(tx *sqlx.Tx) error {
		mkUser(t, tx, "alive", 0)
		return nil
	}))
}
