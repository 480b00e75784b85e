// Package policy makes authorization decisions. Every decision is computed
// from an explicit Principal; nothing is read from ambient request state.
package policy

import (
	"jokes/internal/apperr"
	"jokes/internal/models"
)

// Principal is the authenticated caller of a service operation.
type Principal struct {
	UserID   int64
	Nickname string
	Role     models.Role
}

// PrincipalOf builds the principal for a loaded user.
func PrincipalOf(u *models.User) Principal {
	return Principal{UserID: u.ID, Nickname: u.Nickname, Role: u.Role}
}

// Decision is the result of a policy check.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Err turns a denial into a Forbidden error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.Forbidden("%s", d.Reason)
}

// Guard is a composable authorization predicate.
type Guard func(p Principal) Decision

// Check evaluates guards in order and returns the first denial.
func Check(p Principal, guards ...Guard) Decision {
	for _, g := range guards {
		if d := g(p); !d.Allowed {
			return d
		}
	}
	return Allow()
}

// Authenticated allows any principal that identifies a user.
func Authenticated(p Principal) Decision {
	if p.UserID == 0 {
		return Deny("login required")
	}
	return Allow()
}

// CanModerate allows moderators only.
func CanModerate(p Principal) Decision {
	if p.Role != models.RoleModerator {
		return Deny("moderator access only.")
	}
	return Allow()
}

// Owns returns a guard that allows only the owner of a resource.
func Owns(ownerID int64) Guard {
	return func(p Principal) Decision {
		if p.UserID == 0 || p.UserID != ownerID {
			return Deny("you are not the author")
		}
		return Allow()
	}
}
