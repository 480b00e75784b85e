package policy

import (
	"context"
	"database/sql"
	"slices"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/models"
)

// requireModerator re-reads the actor inside the transaction so a role
// revoked since login is honoured.
func requireModerator(ctx context.Context, q models.Queryer, actor Principal) error {
	u, err := models.GetUserForUpdate(ctx, q, actor.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Forbidden("moderator access only.")
	}
	if err != nil {
		return err
	}
	return CanModerate(PrincipalOf(u)).Err()
}

func loadTarget(ctx context.Context, q models.Queryer, id int64) (*models.User, error) {
	u, err := models.GetUser(ctx, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("User id %d doesn't exist.", id)
	}
	return u, err
}

// Promote makes target a moderator. Promoting a moderator is a no-op.
func Promote(ctx context.Context, q models.Queryer, actor Principal, targetID int64) error {
	if err := requireModerator(ctx, q, actor); err != nil {
		return err
	}
	target, err := loadTarget(ctx, q, targetID)
	if err != nil {
		return err
	}
	if target.Role == models.RoleModerator {
		return nil
	}
	if err := models.SetRole(ctx, q, targetID, models.RoleModerator); err != nil {
		return err
	}
	log.WithFields(log.Fields{"actor": actor.UserID, "target": targetID}).Info("user promoted to moderator")
	return nil
}

// Demote returns target to the user role. The moderator set is locked and
// counted in the same transaction, so two concurrent demotions cannot both
// pass the check and leave no moderator behind.
func Demote(ctx context.Context, q models.Queryer, actor Principal, targetID int64) error {
	moderators, err := models.LockModerators(ctx, q)
	if err != nil {
		return err
	}
	if !slices.Contains(moderators, actor.UserID) {
		return apperr.Forbidden("moderator access only.")
	}
	target, err := loadTarget(ctx, q, targetID)
	if err != nil {
		return err
	}
	if target.Role != models.RoleModerator {
		return nil
	}
	if len(moderators) <= 1 {
		log.WithField("target", targetID).Warn("refused to remove the last moderator")
		return apperr.Conflict("cannot remove last moderator")
	}
	if err := models.SetRole(ctx, q, targetID, models.RoleUser); err != nil {
		return err
	}
	log.WithFields(log.Fields{"actor": actor.UserID, "target": targetID}).Info("moderator demoted to user")
	return nil
}

// SetBalance overwrites target's credit balance.
func SetBalance(ctx context.Context, q models.Queryer, actor Principal, targetID int64, balance int) error {
	if err := requireModerator(ctx, q, actor); err != nil {
		return err
	}
	if balance < 0 {
		return apperr.InvalidField("balance", "Balance must be a non-negative integer.")
	}
	if _, err := loadTarget(ctx, q, targetID); err != nil {
		return err
	}
	if err := models.SetBalance(ctx, q, targetID, balance); err != nil {
		return err
	}
	log.WithFields(log.Fields{"actor": actor.UserID, "target": targetID, "balance": balance}).Info("balance updated")
	return nil
}

// ListUsers backs the moderator dashboard.
func ListUsers(ctx context.Context, q models.Queryer, actor Principal) ([]models.User, error) {
	if err := requireModerator(ctx, q, actor); err != nil {
		return nil, err
	}
	return models.ListUsers(ctx, q)
}
