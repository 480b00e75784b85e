package db

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// WithTx runs fn inside a transaction that is committed when fn returns nil
// and rolled back on every other exit path, panics included. A cancelled ctx
// aborts the transaction.
func WithTx(ctx context.Context, conn *sqlx.DB, reason string, fn func(tx *sqlx.Tx) error) (err error) {
	log.Debugf("starting transaction: (%s)", reason)

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}

	var committed bool

	defer func() {
		if p := recover(); p != nil {
			log.Errorf("panic in transaction (%s): %v\n%s", reason, p, debug.Stack())
			err = fmt.Errorf("panic in transaction (%s): %v", reason, p)
		}

		if committed {
			return
		}

		if rbErr := tx.Rollback(); rbErr != nil {
			if errors.Is(rbErr, sql.ErrTxDone) {
				log.Debugf("transaction already closed: (%s)", reason)
			} else {
				log.Warnf("transaction rollback error: (%s) %v", reason, rbErr)
			}
		} else {
			log.Debugf("transaction rolled back: (%s)", reason)
		}
	}()

	if err = fn(tx); err != nil {
		log.Debugf("error in transaction (%s): %v", reason, err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing transaction (%s)", reason)
	}
	committed = true

	log.Debugf("committed transaction: (%s)", reason)
	return nil
}
