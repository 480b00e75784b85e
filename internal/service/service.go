// Package service exposes the joke economy as request-scoped operations.
// Each call runs in exactly one transaction and returns only apperr kinds.
package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/auth"
	"jokes/internal/db"
	"jokes/internal/metrics"
)

type Service struct {
	db      *sqlx.DB
	hasher  *auth.Hasher
	metrics *metrics.Metrics

	// Now is the clock stamped on created rows.
	Now func() time.Time
	// SessionTTL bounds how long a login stays valid.
	SessionTTL time.Duration
}

const DefaultSessionTTL = 24 * time.Hour

// New builds a service. A nil m gets collectors on a private registry.
func New(conn *sqlx.DB, hasher *auth.Hasher, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Service{db: conn, hasher: hasher, metrics: m, Now: time.Now, SessionTTL: DefaultSessionTTL}
}

func (s *Service) now() time.Time {
	return s.Now().UTC()
}

// tx runs fn in a transaction and translates whatever comes out of it.
func (s *Service) tx(ctx context.Context, reason string, fn func(tx *sqlx.Tx) error) error {
	err := apperr.Translate(db.WithTx(ctx, s.db, reason, fn))
	if apperr.Is(err, apperr.KindInternal) {
		log.WithError(errors.Unwrap(err)).WithField("op", reason).Error("operation failed")
	}
	return err
}
