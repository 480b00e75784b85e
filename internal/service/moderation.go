package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"jokes/internal/apperr"
	"jokes/internal/models"
	"jokes/internal/policy"
)

// Status is the public user and joke count.
type Status struct {
	Users int `json:"users"`
	Jokes int `json:"jokes"`
}

func (s *Service) moderation(action string, err error) error {
	result := "ok"
	if err != nil {
		result = apperr.KindOf(err).String()
	}
	s.metrics.Moderation.WithLabelValues(action, result).Inc()
	return err
}

func (s *Service) PromoteUser(ctx context.Context, p policy.Principal, targetID int64) error {
	err := s.tx(ctx, "promote", func(tx *sqlx.Tx) error {
		return policy.Promote(ctx, tx, p, targetID)
	})
	return s.moderation("promote", err)
}

// DemoteUser refuses to leave the system without a moderator.
func (s *Service) DemoteUser(ctx context.Context, p policy.Principal, targetID int64) error {
	err := s.tx(ctx, "demote", func(tx *sqlx.Tx) error {
		return policy.Demote(ctx, tx, p, targetID)
	})
	return s.moderation("demote", err)
}

func (s *Service) SetUserBalance(ctx context.Context, p policy.Principal, targetID int64, balance int) error {
	err := s.tx(ctx, "set balance", func(tx *sqlx.Tx) error {
		return policy.SetBalance(ctx, tx, p, targetID, balance)
	})
	return s.moderation("set_balance", err)
}

func (s *Service) ListUsers(ctx context.Context, p policy.Principal) ([]models.User, error) {
	var users []models.User
	err := s.tx(ctx, "list users", func(tx *sqlx.Tx) error {
		var err error
		users, err = policy.ListUsers(ctx, tx, p)
		return err
	})
	return users, err
}

// AllUsers lists accounts without a moderator check. Operator tooling only.
func (s *Service) AllUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.tx(ctx, "all users", func(tx *sqlx.Tx) error {
		var err error
		users, err = models.ListUsers(ctx, tx)
		return err
	})
	return users, err
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.tx(ctx, "status", func(tx *sqlx.Tx) error {
		var err error
		if st.Users, err = models.CountUsers(ctx, tx); err != nil {
			return err
		}
		st.Jokes, err = models.CountPosts(ctx, tx)
		return err
	})
	return st, err
}
