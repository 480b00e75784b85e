// Package credit moves credit balances: one credit earned per published
// joke, one credit spent the first time a reader unlocks someone else's joke.
package credit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/models"
)

// Outcome says how access to a post was granted.
type Outcome int

const (
	// OutcomeAuthor: authors always read their own posts for free.
	OutcomeAuthor Outcome = iota
	// OutcomeAlreadyUnlocked: the reader paid on an earlier visit.
	OutcomeAlreadyUnlocked
	// OutcomeDebited: this call spent one credit and recorded the view.
	OutcomeDebited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthor:
		return "author"
	case OutcomeAlreadyUnlocked:
		return "unlocked"
	default:
		return "debited"
	}
}

// Award credits the author for a new post. It must run in the transaction
// that inserted the post.
func Award(ctx context.Context, q models.Queryer, authorID int64) error {
	if err := models.IncrementBalance(ctx, q, authorID); err != nil {
		return err
	}
	log.WithField("user_id", authorID).Debug("awarded credit for new joke")
	return nil
}

// TryUnlockView grants userID access to post, spending a credit on the first
// visit. The view insert and the debit share the caller's transaction: when
// the balance is empty the InsufficientCredit error makes the caller roll
// back the view row as well.
func TryUnlockView(ctx context.Context, q models.Queryer, userID int64, post *models.Post, now time.Time) (Outcome, error) {
	if post.AuthorID == userID {
		return OutcomeAuthor, nil
	}

	inserted, err := models.InsertView(ctx, q, userID, post.ID, now)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return OutcomeAlreadyUnlocked, nil
	}

	debited, err := models.DebitBalance(ctx, q, userID)
	if err != nil {
		return 0, err
	}
	if !debited {
		log.WithFields(log.Fields{"user_id": userID, "post_id": post.ID}).Warn("tried to view a joke with 0 balance")
		return 0, apperr.InsufficientCredit("You need to leave a joke first before viewing more jokes.")
	}

	log.WithFields(log.Fields{"user_id": userID, "post_id": post.ID}).Debug("spent credit to unlock joke")
	return OutcomeDebited, nil
}
