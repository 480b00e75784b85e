package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const userColumns = `id, email, nickname, password_hash, hash_scheme, role, credit_balance, created_at`

func CreateUser(ctx context.Context, q Queryer, u NewUser) (int64, error) {
	var id int64
	err := q.QueryRowxContext(ctx, q.Rebind(`INSERT INTO users (email, nickname, password_hash, hash_scheme, role, created_at)
        VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		u.Email, u.Nickname, u.PasswordHash, u.HashScheme, u.Role, u.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, classify(err, "insert user")
	}
	return id, nil
}

func GetUser(ctx context.Context, q Queryer, id int64) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, q, &u, q.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	return &u, nil
}

// GetUserForUpdate reads the user and holds its row lock until the
// transaction ends.
func GetUserForUpdate(ctx context.Context, q Queryer, id int64) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, q, &u, q.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`+forUpdate(q)), id)
	if err != nil {
		return nil, errors.Wrap(err, "get user for update")
	}
	return &u, nil
}

// GetUserByLogin finds a user by email or nickname.
func GetUserByLogin(ctx context.Context, q Queryer, login string) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, q, &u, q.Rebind(`SELECT `+userColumns+` FROM users WHERE email = ? OR nickname = ?`), login, login)
	if err != nil {
		return nil, errors.Wrap(err, "get user by login")
	}
	return &u, nil
}

func ListUsers(ctx context.Context, q Queryer) ([]User, error) {
	users := []User{}
	err := sqlx.SelectContext(ctx, q, &users, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}

func CountUsers(ctx context.Context, q Queryer) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, errors.Wrap(err, "count users")
	}
	return n, nil
}

// LockModerators returns the ids of every moderator, locking their rows so
// that concurrent role changes see a consistent moderator set.
func LockModerators(ctx context.Context, q Queryer) ([]int64, error) {
	ids := []int64{}
	err := sqlx.SelectContext(ctx, q, &ids, q.Rebind(`SELECT id FROM users WHERE role = ? ORDER BY id`+forUpdate(q)), RoleModerator)
	if err != nil {
		return nil, errors.Wrap(err, "lock moderators")
	}
	return ids, nil
}

func SetRole(ctx context.Context, q Queryer, id int64, role Role) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET role = ? WHERE id = ?`), role, id)
	if err != nil {
		return errors.Wrap(err, "set role")
	}
	return expectRow(res, "set role")
}

func SetBalance(ctx context.Context, q Queryer, id int64, balance int) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET credit_balance = ? WHERE id = ?`), balance, id)
	if err != nil {
		return errors.Wrap(err, "set balance")
	}
	return expectRow(res, "set balance")
}

func IncrementBalance(ctx context.Context, q Queryer, id int64) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET credit_balance = credit_balance + 1 WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "increment balance")
	}
	return expectRow(res, "increment balance")
}

// DebitBalance takes one credit if the balance is positive. It reports
// false, and changes nothing, when the balance is already zero.
func DebitBalance(ctx context.Context, q Queryer, id int64) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET credit_balance = credit_balance - 1
        WHERE id = ? AND credit_balance > 0`), id)
	if err != nil {
		return false, errors.Wrap(err, "debit balance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "debit balance")
	}
	return n == 1, nil
}

// SwapPasswordHash replaces the hash only if it still equals oldHash, so a
// concurrent password change is never overwritten by a rehash.
func SwapPasswordHash(ctx context.Context, q Queryer, id int64, oldHash, newHash, scheme string) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET password_hash = ?, hash_scheme = ?
        WHERE id = ? AND password_hash = ?`), newHash, scheme, id, oldHash)
	if err != nil {
		return false, errors.Wrap(err, "swap password hash")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "swap password hash")
	}
	return n == 1, nil
}

func CreateSession(ctx context.Context, q Queryer, userID int64, sessionID string, now, expires time.Time) error {
	// revoke existing
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`), now.UTC(), userID)
	if err != nil {
		return errors.Wrap(err, "revoke sessions")
	}
	_, err = q.ExecContext(ctx, q.Rebind(`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		sessionID, userID, now.UTC(), expires.UTC())
	return errors.Wrap(err, "insert session")
}

func GetSession(ctx context.Context, q Queryer, id string) (*Session, error) {
	var s Session
	err := sqlx.GetContext(ctx, q, &s, q.Rebind(`SELECT id, user_id, created_at, expires_at, revoked_at FROM sessions WHERE id = ?`), id)
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	return &s, nil
}

func RevokeSession(ctx context.Context, q Queryer, id string, now time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`), now.UTC(), id)
	return errors.Wrap(err, "revoke session")
}

func expectRow(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return errors.Wrap(sql.ErrNoRows, msg)
	}
	return nil
}
