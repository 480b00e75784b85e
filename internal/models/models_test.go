package models_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jokes/internal/db/dbtest"
	"jokes/internal/models"
)

func newUser(email, nickname string) models.NewUser {
	return models.NewUser{
		Email:        email,
		Nickname:     nickname,
		PasswordHash: "x",
		HashScheme:   "test",
		Role:         models.RoleUser,
		CreatedAt:    time.Now(),
	}
}

func TestCreateUserDuplicates(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()

	_, err := models.CreateUser(ctx, conn, newUser("a@b.com", "alice"))
	require.NoError(t, err)

	_, err = models.CreateUser(ctx, conn, newUser("a@b.com", "other"))
	assert.ErrorIs(t, err, models.ErrDuplicateEmail)

	_, err = models.CreateUser(ctx, conn, newUser("c@d.com", "alice"))
	assert.ErrorIs(t, err, models.ErrDuplicateNickname)
}

func TestCreatePostDuplicateTitle(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()

	uid, err := models.CreateUser(ctx, conn, newUser("a@b.com", "alice"))
	require.NoError(t, err)

	_, err = models.CreatePost(ctx, conn, uid, "knock knock", "who is there", time.Now())
	require.NoError(t, err)
	_, err = models.CreatePost(ctx, conn, uid, "knock knock", "again", time.Now())
	assert.ErrorIs(t, err, models.ErrDuplicateTitle)

	_, err = models.CreatePost(ctx, conn, uid+100, "orphan", "no author", time.Now())
	assert.ErrorIs(t, err, models.ErrMissingReference)
}

func TestInsertViewOnce(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()

	author, err := models.CreateUser(ctx, conn, newUser("a@b.com", "alice"))
	require.NoError(t, err)
	reader, err := models.CreateUser(ctx, conn, newUser("b@b.com", "bob"))
	require.NoError(t, err)
	pid, err := models.CreatePost(ctx, conn, author, "t", "b", time.Now())
	require.NoError(t, err)

	inserted, err := models.InsertView(ctx, conn, reader, pid, time.Now())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = models.InsertView(ctx, conn, reader, pid, time.Now())
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := models.CountViews(ctx, conn, pid)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDebitBalanceStopsAtZero(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()

	uid, err := models.CreateUser(ctx, conn, newUser("a@b.com", "alice"))
	require.NoError(t, err)
	require.NoError(t, models.IncrementBalance(ctx, conn, uid))

	ok, err := models.DebitBalance(ctx, conn, uid)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = models.DebitBalance(ctx, conn, uid)
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := models.GetUser(ctx, conn, uid)
	require.NoError(t, err)
	assert.Equal(t, 0, u.CreditBalance)
}

func TestSessions(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	now := time.Now()

	uid, err := models.CreateUser(ctx, conn, newUser("a@b.com", "alice"))
	require.NoError(t, err)

	require.NoError(t, models.CreateSession(ctx, conn, uid, "first", now, now.Add(time.Hour)))
	require.NoError(t, models.CreateSession(ctx, conn, uid, "second", now, now.Add(time.Hour)))

	first, err := models.GetSession(ctx, conn, "first")
	require.NoError(t, err)
	assert.False(t, first.Active(now), "older session revoked by new login")

	second, err := models.GetSession(ctx, conn, "second")
	require.NoError(t, err)
	assert.True(t, second.Active(now))
	assert.False(t, second.Active(now.Add(2*time.Hour)))

	require.NoError(t, models.RevokeSession(ctx, conn, "second", now))
	second, err = models.GetSession(ctx, conn, "second")
	require.NoError(t, err)
	assert.False(t, second.Active(now))
}

func TestPostgresUniqueViolationMapping(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	conn := sqlx.NewDb(raw, "postgres")

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@b.com", "alice", "x", "test", models.RoleUser, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_nickname_key"})

	_, err = models.CreateUser(context.Background(), conn, newUser("a@b.com", "alice"))
	assert.ErrorIs(t, err, models.ErrDuplicateNickname)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLocksModerators(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	conn := sqlx.NewDb(raw, "postgres")

	mock.ExpectQuery(`SELECT id FROM users WHERE role = \$1 ORDER BY id FOR UPDATE`).
		WithArgs(models.RoleModerator).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(4))

	ids, err := models.LockModerators(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingRowsWrapNoRows(t *testing.T) {
	conn := dbtest.Open(t)
	_, err := models.GetPost(context.Background(), conn, 42)
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	err = models.SetRole(context.Background(), conn, 42, models.RoleModerator)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}
