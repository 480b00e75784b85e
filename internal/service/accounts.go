package service

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/auth"
	"jokes/internal/models"
	"jokes/internal/policy"
)

// Register creates a user account with a zero balance.
func (s *Service) Register(ctx context.Context, r auth.Registration) (*models.User, error) {
	return s.createAccount(ctx, r, models.RoleUser)
}

// CreateModerator creates an account that starts as a moderator. It backs
// the operator bootstrap command, not any HTTP route.
func (s *Service) CreateModerator(ctx context.Context, r auth.Registration) (*models.User, error) {
	return s.createAccount(ctx, r, models.RoleModerator)
}

func (s *Service) createAccount(ctx context.Context, r auth.Registration, role models.Role) (*models.User, error) {
	nu, err := auth.Prepare(s.hasher, r, role, s.now())
	if err != nil {
		return nil, apperr.Translate(err)
	}
	var u *models.User
	err = s.tx(ctx, "register", func(tx *sqlx.Tx) error {
		u, err = auth.CreateUser(ctx, tx, nu)
		return err
	})
	return u, err
}

// Login checks credentials for an email or nickname. Outdated password
// hashes are replaced on success.
func (s *Service) Login(ctx context.Context, login, password string) (*models.User, error) {
	var u *models.User
	err := s.tx(ctx, "login lookup", func(tx *sqlx.Tx) error {
		var err error
		u, err = auth.LookupLogin(ctx, tx, login)
		return err
	})
	if err != nil {
		return nil, err
	}

	fresh, err := auth.CheckPassword(s.hasher, u, password)
	if err != nil {
		return nil, apperr.Translate(err)
	}
	if fresh != nil {
		err := s.tx(ctx, "upgrade hash", func(tx *sqlx.Tx) error {
			return auth.UpgradeHash(ctx, tx, u, *fresh)
		})
		if err != nil {
			// the login itself succeeded; the old hash still works next time
			log.WithError(err).WithField("user_id", u.ID).Warn("password hash upgrade failed")
		}
	}
	log.WithField("user_id", u.ID).Info("user logged in")
	return u, nil
}

// StartSession opens a new session for userID and revokes any earlier one.
func (s *Service) StartSession(ctx context.Context, userID int64) (*models.Session, error) {
	now := s.now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.SessionTTL),
	}
	err := s.tx(ctx, "start session", func(tx *sqlx.Tx) error {
		return models.CreateSession(ctx, tx, userID, sess.ID, sess.CreatedAt, sess.ExpiresAt)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Authenticate resolves a session id to the principal it belongs to. The
// role is read from the store, not from the session.
func (s *Service) Authenticate(ctx context.Context, sessionID string) (policy.Principal, error) {
	var p policy.Principal
	if _, err := uuid.Parse(sessionID); err != nil {
		return p, apperr.Forbidden("Please log in.")
	}
	err := s.tx(ctx, "authenticate", func(tx *sqlx.Tx) error {
		sess, err := models.GetSession(ctx, tx, sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Forbidden("Please log in.")
		}
		if err != nil {
			return err
		}
		if !sess.Active(s.now()) {
			return apperr.Forbidden("Your session has expired. Please log in again.")
		}
		u, err := models.GetUser(ctx, tx, sess.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Forbidden("Please log in.")
		}
		if err != nil {
			return err
		}
		p = policy.PrincipalOf(u)
		return nil
	})
	return p, err
}

// EndSession revokes sessionID. Ids that were never issued are ignored.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil
	}
	return s.tx(ctx, "end session", func(tx *sqlx.Tx) error {
		return models.RevokeSession(ctx, tx, sessionID, s.now())
	})
}

// Me returns the caller's own account, balance included.
func (s *Service) Me(ctx context.Context, p policy.Principal) (*models.User, error) {
	if err := policy.Authenticated(p).Err(); err != nil {
		return nil, err
	}
	var u *models.User
	err := s.tx(ctx, "me", func(tx *sqlx.Tx) error {
		var err error
		u, err = models.GetUser(ctx, tx, p.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("User id %d doesn't exist.", p.UserID)
		}
		return err
	})
	return u, err
}
