// Package ledger keeps per-user engagement with jokes: ratings, comments,
// and the aggregates and ranking derived from them.
package ledger

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/models"
)

const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 500
)

// Aggregate is the derived rating summary of a post.
type Aggregate struct {
	AvgRating   float64 `json:"avg_rating"`
	RatingCount int     `json:"rating_count"`
}

// RoundRating rounds a mean rating half away from zero to one decimal.
func RoundRating(avg float64) float64 {
	return decimal.NewFromFloat(avg).Round(1).InexactFloat64()
}

func AggregateFor(ctx context.Context, q models.Queryer, postID int64) (Aggregate, error) {
	avg, n, err := models.RatingStats(ctx, q, postID)
	if err != nil {
		return Aggregate{}, err
	}
	return Aggregate{AvgRating: RoundRating(avg), RatingCount: n}, nil
}

// loadPost fetches a post, reporting NotFound when it does not exist.
func loadPost(ctx context.Context, q models.Queryer, postID int64) (*models.Post, error) {
	p, err := models.GetPost(ctx, q, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Joke id %d doesn't exist.", postID)
	}
	return p, err
}

// SubmitRating records userID's rating of a post, replacing any earlier
// rating by the same user, and returns the refreshed aggregate.
func SubmitRating(ctx context.Context, q models.Queryer, userID, postID int64, value int, now time.Time) (Aggregate, error) {
	if value < MinRating || value > MaxRating {
		return Aggregate{}, apperr.InvalidField("rating", "Rating must be between %d and %d.", MinRating, MaxRating)
	}
	post, err := loadPost(ctx, q, postID)
	if err != nil {
		return Aggregate{}, err
	}
	if post.AuthorID == userID {
		return Aggregate{}, apperr.Forbidden("You cannot rate your own joke.")
	}

	err = models.UpsertRating(ctx, q, userID, postID, value, now)
	if errors.Is(err, models.ErrMissingReference) {
		return Aggregate{}, apperr.NotFound("Joke id %d doesn't exist.", postID)
	}
	if err != nil {
		return Aggregate{}, err
	}
	log.WithFields(log.Fields{"user_id": userID, "post_id": postID, "rating": value}).Info("rated joke")
	return AggregateFor(ctx, q, postID)
}

// UserRating returns userID's current rating of the post, or nil.
func UserRating(ctx context.Context, q models.Queryer, userID, postID int64) (*int, error) {
	r, err := models.GetRating(ctx, q, userID, postID)
	if err != nil || r == nil {
		return nil, err
	}
	return &r.Value, nil
}

// AddComment stores a trimmed comment of 1 to MaxCommentLength characters.
func AddComment(ctx context.Context, q models.Queryer, userID, postID int64, body string, now time.Time) (*models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.InvalidField("body", "Comment cannot be empty")
	}
	if utf8.RuneCountInString(body) > MaxCommentLength {
		return nil, apperr.InvalidField("body", "Comment too long (max %d characters)", MaxCommentLength)
	}
	if _, err := loadPost(ctx, q, postID); err != nil {
		return nil, err
	}

	id, err := models.CreateComment(ctx, q, postID, userID, body, now)
	if errors.Is(err, models.ErrMissingReference) {
		return nil, apperr.NotFound("Joke id %d doesn't exist.", postID)
	}
	if err != nil {
		return nil, err
	}
	c, err := models.GetComment(ctx, q, id)
	if err != nil {
		return nil, err
	}
	c.IsOwner = true
	log.WithFields(log.Fields{"user_id": userID, "post_id": postID, "comment_id": id}).Info("added comment")
	return c, nil
}

// DeleteComment removes a comment owned by userID. Ownership is strict:
// moderators cannot delete other users' comments either.
func DeleteComment(ctx context.Context, q models.Queryer, userID, commentID int64) error {
	c, err := models.GetComment(ctx, q, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("Comment not found")
	}
	if err != nil {
		return err
	}
	if c.UserID != userID {
		log.WithFields(log.Fields{"user_id": userID, "comment_id": commentID}).Warn("refused to delete someone else's comment")
		return apperr.Forbidden("Unauthorized")
	}
	return models.DeleteComment(ctx, q, commentID)
}

// ListComments returns a post's comments, oldest first, flagging those
// written by viewerID.
func ListComments(ctx context.Context, q models.Queryer, viewerID, postID int64) ([]models.Comment, error) {
	comments, err := models.ListComments(ctx, q, postID)
	if err != nil {
		return nil, err
	}
	for i := range comments {
		comments[i].IsOwner = comments[i].UserID == viewerID
	}
	return comments, nil
}
