// Package auth validates registrations and checks credentials against
// versioned password hashes.
package auth

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/models"
)

var (
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s.]+(\.[^@\s.]+)*\.[^@\s.]+$`)
	nicknameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("mailbox", func(fl validator.FieldLevel) bool {
		return emailRe.MatchString(fl.Field().String())
	})
	v.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
		return nicknameRe.MatchString(fl.Field().String())
	})
	return v
}

// Registration is the input of a sign-up form. Confirm is only checked when
// ConfirmRequired is set.
type Registration struct {
	Email           string `validate:"required,mailbox"`
	Nickname        string `validate:"required,nickname"`
	Password        string `validate:"required"`
	Confirm         string
	ConfirmRequired bool
}

var messages = map[string]string{
	"required": "%s is required.",
	"mailbox":  "Invalid %s format.",
	"nickname": "Invalid %s: use 3 to 20 letters, digits or underscores.",
}

// Validate checks the registration and reports the first offending field.
func (r Registration) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return apperr.Internal(err)
		}
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		format, ok := messages[fe.Tag()]
		if !ok {
			format = "Invalid %s."
		}
		return apperr.InvalidField(field, format, fe.Field())
	}
	if r.ConfirmRequired && r.Confirm != r.Password {
		return apperr.InvalidField("confirm", "Passwords do not match.")
	}
	return nil
}

// Prepare validates r and hashes its password. Hashing is slow on purpose,
// so callers run it before opening a transaction.
func Prepare(h *Hasher, r Registration, role models.Role, now time.Time) (models.NewUser, error) {
	r.Email = strings.TrimSpace(r.Email)
	r.Nickname = strings.TrimSpace(r.Nickname)
	if err := r.Validate(); err != nil {
		return models.NewUser{}, err
	}
	hash, err := h.Hash(r.Password)
	if err != nil {
		return models.NewUser{}, apperr.Internal(err)
	}
	return models.NewUser{
		Email:        r.Email,
		Nickname:     r.Nickname,
		PasswordHash: hash.Value,
		HashScheme:   string(hash.Scheme),
		Role:         role,
		CreatedAt:    now,
	}, nil
}

// CreateUser stores a prepared user. A duplicate email or nickname is a
// Conflict naming the field.
func CreateUser(ctx context.Context, q models.Queryer, nu models.NewUser) (*models.User, error) {
	id, err := models.CreateUser(ctx, q, nu)
	switch {
	case errors.Is(err, models.ErrDuplicateEmail):
		return nil, apperr.ConflictField("email", "Email %s is already registered.", nu.Email)
	case errors.Is(err, models.ErrDuplicateNickname):
		return nil, apperr.ConflictField("nickname", "Nickname %s is already taken.", nu.Nickname)
	case err != nil:
		return nil, err
	}
	log.WithField("nickname", nu.Nickname).Info("registered new user")
	return models.GetUser(ctx, q, id)
}

func invalidCredentials() error {
	return apperr.InvalidInput("Incorrect username or password.")
}

// LookupLogin finds the account for an email or nickname.
func LookupLogin(ctx context.Context, q models.Queryer, login string) (*models.User, error) {
	u, err := models.GetUserByLogin(ctx, q, strings.TrimSpace(login))
	if errors.Is(err, sql.ErrNoRows) {
		log.WithField("login", login).Warn("login failed: no such user")
		return nil, invalidCredentials()
	}
	return u, err
}

// CheckPassword verifies password for u. On success it returns a
// replacement hash when the stored one uses an outdated scheme.
func CheckPassword(h *Hasher, u *models.User, password string) (*Hash, error) {
	stored := Hash{Scheme: Scheme(u.HashScheme), Value: u.PasswordHash}
	ok, err := h.Verify(stored, u.Email, password)
	if err != nil {
		log.WithError(err).WithField("user_id", u.ID).Error("stored password hash unusable")
		return nil, invalidCredentials()
	}
	if !ok {
		log.WithField("user_id", u.ID).Warn("login failed: wrong password")
		return nil, invalidCredentials()
	}
	if !h.NeedsRehash(stored) {
		return nil, nil
	}
	fresh, err := h.Hash(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &fresh, nil
}

// UpgradeHash swaps in a rehashed password unless it changed meanwhile.
func UpgradeHash(ctx context.Context, q models.Queryer, u *models.User, fresh Hash) error {
	swapped, err := models.SwapPasswordHash(ctx, q, u.ID, u.PasswordHash, fresh.Value, string(fresh.Scheme))
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"user_id": u.ID, "from": u.HashScheme, "to": fresh.Scheme, "swapped": swapped}).
		Info("upgraded password hash")
	return nil
}
