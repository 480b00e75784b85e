package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"jokes/internal/apperr"
	"jokes/internal/auth"
	"jokes/internal/db/dbtest"
	"jokes/internal/ledger"
	"jokes/internal/models"
	"jokes/internal/policy"
	"jokes/internal/service"
)

var ctx = context.Background()

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T) (*service.Service, *sqlx.DB, *clock) {
	t.Helper()
	conn := dbtest.Open(t)
	s := service.New(conn, auth.NewHasher(auth.MinIterations), nil)
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.Now = c.now
	return s, conn, c
}

func register(t *testing.T, s *service.Service, name string) policy.Principal {
	t.Helper()
	u, err := s.Register(ctx, auth.Registration{
		Email: name + "@example.com", Nickname: name, Password: "secret-" + name,
	})
	require.NoError(t, err)
	return policy.PrincipalOf(u)
}

func balance(t *testing.T, s *service.Service, p policy.Principal) int {
	t.Helper()
	u, err := s.Me(ctx, p)
	require.NoError(t, err)
	return u.CreditBalance
}

func TestCreditFlow(t *testing.T) {
	s, _, c := newService(t)
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")
	assert.Equal(t, 0, balance(t, s, alice))

	pa, err := s.CreatePost(ctx, alice, "Knock knock", "Who's there?")
	require.NoError(t, err)
	assert.Equal(t, 1, balance(t, s, alice))

	// no credit yet
	_, _, err = s.ViewPost(ctx, bob, pa)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientCredit), "got %v", err)
	assert.Equal(t, 0, balance(t, s, bob))

	c.advance(time.Minute)
	_, err = s.CreatePost(ctx, bob, "Atoms", "They make up everything.")
	require.NoError(t, err)
	assert.Equal(t, 1, balance(t, s, bob))

	detail, paid, err := s.ViewPost(ctx, bob, pa)
	require.NoError(t, err)
	assert.True(t, paid)
	assert.Equal(t, "Who's there?", detail.Body)
	assert.Equal(t, "alice", detail.AuthorNickname)
	assert.False(t, detail.IsAuthor)
	assert.Equal(t, 0, balance(t, s, bob))

	// second view is free
	_, paid, err = s.ViewPost(ctx, bob, pa)
	require.NoError(t, err)
	assert.False(t, paid)
	assert.Equal(t, 0, balance(t, s, bob))

	// authors never pay
	detail, paid, err = s.ViewPost(ctx, alice, pa)
	require.NoError(t, err)
	assert.False(t, paid)
	assert.True(t, detail.IsAuthor)
	assert.Equal(t, 1, balance(t, s, alice))

	agg, err := s.RatePost(ctx, bob, pa, 4)
	require.NoError(t, err)
	assert.Equal(t, 4.0, agg.AvgRating)
	assert.Equal(t, 1, agg.RatingCount)

	// re-rating replaces the earlier value
	agg, err = s.RatePost(ctx, bob, pa, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, agg.AvgRating)
	assert.Equal(t, 1, agg.RatingCount)

	_, err = s.RatePost(ctx, alice, pa, 5)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	// bob spent his only credit; carol's joke stays locked
	carol := register(t, s, "carol")
	pc, err := s.CreatePost(ctx, carol, "Carol's", "Punchline")
	require.NoError(t, err)
	_, _, err = s.ViewPost(ctx, bob, pc)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientCredit), "got %v", err)
	assert.Equal(t, 0, balance(t, s, bob))
	assert.Equal(t, 1, balance(t, s, carol))

	cm, err := s.CommentOnPost(ctx, bob, pa, "ha")
	require.NoError(t, err)
	detail, _, err = s.ViewPost(ctx, alice, pa)
	require.NoError(t, err)
	require.Len(t, detail.Comments, 1)
	assert.False(t, detail.Comments[0].IsOwner)
	assert.True(t, apperr.Is(s.DeleteComment(ctx, alice, cm.ID), apperr.KindForbidden))
	require.NoError(t, s.DeleteComment(ctx, bob, cm.ID))
}

func TestViewMissingPost(t *testing.T) {
	s, _, _ := newService(t)
	alice := register(t, s, "alice")
	_, _, err := s.ViewPost(ctx, alice, 42)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, _, err = s.ViewPost(ctx, policy.Principal{}, 42)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestCreatePostValidation(t *testing.T) {
	s, _, _ := newService(t)
	alice := register(t, s, "alice")

	tests := []struct {
		title, body string
		kind        apperr.Kind
	}{
		{"", "body", apperr.KindInvalidInput},
		{"title", "  ", apperr.KindInvalidInput},
		{"one two three four five six seven eight nine ten eleven", "body", apperr.KindInvalidInput},
	}
	for _, tt := range tests {
		_, err := s.CreatePost(ctx, alice, tt.title, tt.body)
		assert.True(t, apperr.Is(err, tt.kind), "%q/%q: got %v", tt.title, tt.body, err)
	}

	_, err := s.CreatePost(ctx, alice, "one two three four five six seven eight nine ten", "ok")
	require.NoError(t, err)
	_, err = s.CreatePost(ctx, alice, "one two three four five six seven eight nine ten", "again")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	// the failed publish earned nothing
	assert.Equal(t, 1, balance(t, s, alice))
}

func TestConcurrentPublishing(t *testing.T) {
	s, _, _ := newService(t)
	alice := register(t, s, "alice")

	const n = 8
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, err := s.CreatePost(ctx, alice, fmt.Sprintf("joke %d", i), "punchline")
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, n, balance(t, s, alice))
}

func TestDeletePostCascades(t *testing.T) {
	s, conn, _ := newService(t)
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")

	pa, err := s.CreatePost(ctx, alice, "Pun", "Intended")
	require.NoError(t, err)
	_, err = s.CreatePost(ctx, bob, "Other", "Joke")
	require.NoError(t, err)
	_, _, err = s.ViewPost(ctx, bob, pa)
	require.NoError(t, err)
	_, err = s.RatePost(ctx, bob, pa, 3)
	require.NoError(t, err)
	_, err = s.CommentOnPost(ctx, bob, pa, "meh")
	require.NoError(t, err)

	assert.True(t, apperr.Is(s.DeletePost(ctx, bob, pa), apperr.KindForbidden))
	assert.True(t, apperr.Is(s.UpdatePost(ctx, bob, pa, "mine now"), apperr.KindForbidden))
	require.NoError(t, s.UpdatePost(ctx, alice, pa, "Intended, again"))
	require.NoError(t, s.DeletePost(ctx, alice, pa))

	for _, table := range []string{"views", "ratings", "comments"} {
		var count int
		require.NoError(t, conn.Get(&count, conn.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE post_id = ?`), pa))
		assert.Zero(t, count, table)
	}
	assert.True(t, apperr.Is(s.DeletePost(ctx, alice, pa), apperr.KindNotFound))
}

func TestListJokesScopes(t *testing.T) {
	s, _, c := newService(t)
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")

	pa, err := s.CreatePost(ctx, alice, "First", "one")
	require.NoError(t, err)
	c.advance(time.Second)
	_, err = s.CreatePost(ctx, bob, "Second", "two")
	require.NoError(t, err)

	all, err := s.ListJokes(ctx, bob, ledger.ScopeAll)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// unrated: newest first
	assert.Equal(t, "Second", all[0].Title)
	assert.Empty(t, all[1].Body)
	assert.False(t, all[1].Unlocked)

	others, err := s.ListJokes(ctx, bob, ledger.ScopeOthers)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, pa, others[0].ID)

	mine, err := s.ListJokes(ctx, bob, ledger.ScopeMine)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "two", mine[0].Body)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.Status{Users: 2, Jokes: 2}, st)
}

func TestLoginAndSessions(t *testing.T) {
	s, _, c := newService(t)
	alice := register(t, s, "alice")

	_, err := s.Login(ctx, "alice", "wrong")
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	_, err = s.Login(ctx, "nobody", "secret-alice")
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	u, err := s.Login(ctx, "alice@example.com", "secret-alice")
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, u.ID)

	first, err := s.StartSession(ctx, u.ID)
	require.NoError(t, err)
	p, err := s.Authenticate(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, p)

	// a new login revokes the previous session
	second, err := s.StartSession(ctx, u.ID)
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, first.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	require.NoError(t, s.EndSession(ctx, second.ID))
	_, err = s.Authenticate(ctx, second.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	third, err := s.StartSession(ctx, u.ID)
	require.NoError(t, err)
	c.advance(s.SessionTTL + time.Second)
	_, err = s.Authenticate(ctx, third.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = s.Authenticate(ctx, "no-such-session")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	s, conn, _ := newService(t)
	legacy := auth.LegacyEmailHash("old@example.com", "hunter2")
	id, err := models.CreateUser(ctx, conn, models.NewUser{
		Email: "old@example.com", Nickname: "old", PasswordHash: legacy.Value,
		HashScheme: string(legacy.Scheme), Role: models.RoleUser, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = s.Login(ctx, "old", "hunter2")
	require.NoError(t, err)

	u, err := models.GetUser(ctx, conn, id)
	require.NoError(t, err)
	assert.Equal(t, string(auth.SchemePBKDF2), u.HashScheme)

	// and the new hash still logs in
	_, err = s.Login(ctx, "old", "hunter2")
	require.NoError(t, err)
}

func TestRegisterConflicts(t *testing.T) {
	s, _, _ := newService(t)
	register(t, s, "alice")

	_, err := s.Register(ctx, auth.Registration{Email: "alice@example.com", Nickname: "other", Password: "x"})
	require.True(t, apperr.Is(err, apperr.KindConflict))
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "email", ae.Field)

	_, err = s.Register(ctx, auth.Registration{Email: "new@example.com", Nickname: "alice", Password: "x"})
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "nickname", ae.Field)

	_, err = s.Register(ctx, auth.Registration{Email: "bad", Nickname: "fine", Password: "x"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
}

func TestModeration(t *testing.T) {
	s, _, _ := newService(t)
	root, err := s.CreateModerator(ctx, auth.Registration{Email: "root@example.com", Nickname: "root", Password: "pw"})
	require.NoError(t, err)
	mod := policy.PrincipalOf(root)
	alice := register(t, s, "alice")

	assert.True(t, apperr.Is(s.SetUserBalance(ctx, alice, alice.UserID, 100), apperr.KindForbidden))
	require.NoError(t, s.SetUserBalance(ctx, mod, alice.UserID, 3))
	assert.Equal(t, 3, balance(t, s, alice))

	assert.True(t, apperr.Is(s.DemoteUser(ctx, mod, mod.UserID), apperr.KindConflict))
	require.NoError(t, s.PromoteUser(ctx, mod, alice.UserID))
	require.NoError(t, s.DemoteUser(ctx, mod, mod.UserID))

	// root lost the role; its principal is stale
	_, err = s.ListUsers(ctx, mod)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	alice.Role = models.RoleModerator
	users, err := s.ListUsers(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestStorageErrorsAreInternal(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := service.New(sqlx.NewDb(mockDB, "sqlite3"), auth.NewHasher(auth.MinIterations), nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = s.Status(ctx)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, "internal error", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMalformedSessionIDsSkipTheStore(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	// postgres rejects non-uuid ids with a type error, so none may reach it
	s := service.New(sqlx.NewDb(mockDB, "postgres"), auth.NewHasher(auth.MinIterations), nil)

	_, err = s.Authenticate(ctx, "not-a-uuid")
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "got %v", err)
	assert.NoError(t, s.EndSession(ctx, "not-a-uuid"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnknownSessionIsForbidden(t *testing.T) {
	s, _, _ := newService(t)
	_, err := s.Authenticate(ctx, "9b2f7f3e-6b7c-4d0a-9d55-2a4f2f0c1e11")
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "got %v", err)
}
