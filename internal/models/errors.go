package models

import (
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Queryer is satisfied by *sqlx.DB and *sqlx.Tx.
type Queryer = sqlx.ExtContext

var (
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrDuplicateNickname = errors.New("nickname already exists")
	ErrDuplicateTitle    = errors.New("title already exists for this author")
	ErrMissingReference  = errors.New("referenced row does not exist")
)

// postgres constraint names from the migrations, keyed to the sentinel they map to
var pqConstraints = map[string]error{
	"users_email_key":        ErrDuplicateEmail,
	"users_nickname_key":     ErrDuplicateNickname,
	"posts_author_title_key": ErrDuplicateTitle,
}

// sqlite reports the failing columns in the message, e.g.
// "UNIQUE constraint failed: users.email"
var sqliteColumns = map[string]error{
	"users.email":    ErrDuplicateEmail,
	"users.nickname": ErrDuplicateNickname,
	"posts.title":    ErrDuplicateTitle,
}

// classify maps engine constraint errors onto the store's sentinels and
// wraps everything else with context.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			text := se.Error()
			for col, sentinel := range sqliteColumns {
				if strings.Contains(text, col) {
					return sentinel
				}
			}
		case sqlite3.ErrConstraintForeignKey:
			return ErrMissingReference
		}
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505":
			if sentinel, ok := pqConstraints[pe.Constraint]; ok {
				return sentinel
			}
		case "23503":
			return ErrMissingReference
		}
	}

	return errors.Wrap(err, msg)
}

// forUpdate returns the row-lock suffix for engines that support it. sqlite
// transactions already hold the database write lock.
func forUpdate(q Queryer) string {
	if q.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}
