package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/credit"
	"jokes/internal/ledger"
	"jokes/internal/models"
	"jokes/internal/policy"
)

const maxTitleWords = 10

// PostDetail is everything a reader sees on a joke's page.
type PostDetail struct {
	models.Post
	ledger.Aggregate
	AuthorNickname string           `json:"author"`
	IsAuthor       bool             `json:"is_author"`
	UserRating     *int             `json:"user_rating"`
	Comments       []models.Comment `json:"comments"`
}

func validatePost(title, body string) (string, string, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	switch {
	case title == "":
		return "", "", apperr.InvalidField("title", "Title is required.")
	case body == "":
		return "", "", apperr.InvalidField("body", "Body is required.")
	case len(strings.Fields(title)) > maxTitleWords:
		return "", "", apperr.InvalidField("title", "Title cannot be more than %d words.", maxTitleWords)
	}
	return title, body, nil
}

func getPost(ctx context.Context, q models.Queryer, id int64) (*models.Post, error) {
	p, err := models.GetPost(ctx, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Joke id %d doesn't exist.", id)
	}
	return p, err
}

// CreatePost publishes a joke and credits its author in the same transaction.
func (s *Service) CreatePost(ctx context.Context, p policy.Principal, title, body string) (int64, error) {
	if err := policy.Authenticated(p).Err(); err != nil {
		return 0, err
	}
	title, body, err := validatePost(title, body)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.tx(ctx, "create post", func(tx *sqlx.Tx) error {
		var err error
		id, err = models.CreatePost(ctx, tx, p.UserID, title, body, s.now())
		switch {
		case errors.Is(err, models.ErrDuplicateTitle):
			return apperr.ConflictField("title", "You already have a joke with title '%s'.", title)
		case errors.Is(err, models.ErrMissingReference):
			return apperr.NotFound("User id %d doesn't exist.", p.UserID)
		case err != nil:
			return err
		}
		return credit.Award(ctx, tx, p.UserID)
	})
	if err != nil {
		log.WithError(err).WithField("user_id", p.UserID).Warn("joke creation failed")
		return 0, err
	}
	s.metrics.CreditsAwarded.Inc()
	log.WithFields(log.Fields{"user_id": p.UserID, "post_id": id, "title": title}).Info("joke created")
	return id, nil
}

// ViewPost opens a joke for p. Authors and readers who already paid get in
// for free; others spend one credit, or get InsufficientCredit. grantedViaCredit
// is true only when this call spent the credit.
func (s *Service) ViewPost(ctx context.Context, p policy.Principal, postID int64) (*PostDetail, bool, error) {
	if err := policy.Authenticated(p).Err(); err != nil {
		return nil, false, err
	}

	var (
		detail  PostDetail
		outcome credit.Outcome
	)
	err := s.tx(ctx, "view post", func(tx *sqlx.Tx) error {
		post, err := getPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		outcome, err = credit.TryUnlockView(ctx, tx, p.UserID, post, s.now())
		if err != nil {
			return err
		}

		author, err := models.GetUser(ctx, tx, post.AuthorID)
		if err != nil {
			return err
		}
		agg, err := ledger.AggregateFor(ctx, tx, post.ID)
		if err != nil {
			return err
		}
		rating, err := ledger.UserRating(ctx, tx, p.UserID, post.ID)
		if err != nil {
			return err
		}
		comments, err := ledger.ListComments(ctx, tx, p.UserID, post.ID)
		if err != nil {
			return err
		}
		detail = PostDetail{
			Post:           *post,
			Aggregate:      agg,
			AuthorNickname: author.Nickname,
			IsAuthor:       outcome == credit.OutcomeAuthor,
			UserRating:     rating,
			Comments:       comments,
		}
		return nil
	})
	if apperr.Is(err, apperr.KindInsufficientCredit) {
		s.metrics.Unlocks.WithLabelValues("denied").Inc()
	}
	if err != nil {
		return nil, false, err
	}
	s.metrics.Unlocks.WithLabelValues(outcome.String()).Inc()
	log.WithFields(log.Fields{"user_id": p.UserID, "post_id": postID, "outcome": outcome}).Info("joke viewed")
	return &detail, outcome == credit.OutcomeDebited, nil
}

// UpdatePost replaces the body of a joke owned by p.
func (s *Service) UpdatePost(ctx context.Context, p policy.Principal, postID int64, body string) error {
	if err := policy.Authenticated(p).Err(); err != nil {
		return err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return apperr.InvalidField("body", "Body is required.")
	}
	return s.tx(ctx, "update post", func(tx *sqlx.Tx) error {
		post, err := getPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if err := policy.Check(p, policy.Owns(post.AuthorID)).Err(); err != nil {
			return err
		}
		if err := models.UpdatePostBody(ctx, tx, postID, body); err != nil {
			return err
		}
		log.WithFields(log.Fields{"user_id": p.UserID, "post_id": postID}).Info("joke updated")
		return nil
	})
}

// DeletePost removes a joke owned by p together with its views, ratings and
// comments.
func (s *Service) DeletePost(ctx context.Context, p policy.Principal, postID int64) error {
	if err := policy.Authenticated(p).Err(); err != nil {
		return err
	}
	return s.tx(ctx, "delete post", func(tx *sqlx.Tx) error {
		post, err := getPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if err := policy.Check(p, policy.Owns(post.AuthorID)).Err(); err != nil {
			return err
		}
		if err := models.DeletePost(ctx, tx, postID); err != nil {
			return err
		}
		log.WithFields(log.Fields{"user_id": p.UserID, "post_id": postID}).Info("joke deleted")
		return nil
	})
}

// ListJokes returns the ranked jokes visible in scope.
func (s *Service) ListJokes(ctx context.Context, p policy.Principal, scope ledger.Scope) ([]ledger.Joke, error) {
	if err := policy.Authenticated(p).Err(); err != nil {
		return nil, err
	}
	var jokes []ledger.Joke
	err := s.tx(ctx, "list jokes", func(tx *sqlx.Tx) error {
		var err error
		jokes, err = ledger.ListJokes(ctx, tx, ledger.Filter{ViewerID: p.UserID, Scope: scope})
		return err
	})
	return jokes, err
}

func (s *Service) RatePost(ctx context.Context, p policy.Principal, postID int64, value int) (ledger.Aggregate, error) {
	if err := policy.Authenticated(p).Err(); err != nil {
		return ledger.Aggregate{}, err
	}
	var agg ledger.Aggregate
	err := s.tx(ctx, "rate post", func(tx *sqlx.Tx) error {
		var err error
		agg, err = ledger.SubmitRating(ctx, tx, p.UserID, postID, value, s.now())
		return err
	})
	if err != nil {
		return ledger.Aggregate{}, err
	}
	s.metrics.Ratings.Inc()
	return agg, nil
}

func (s *Service) CommentOnPost(ctx context.Context, p policy.Principal, postID int64, body string) (*models.Comment, error) {
	if err := policy.Authenticated(p).Err(); err != nil {
		return nil, err
	}
	var c *models.Comment
	err := s.tx(ctx, "comment on post", func(tx *sqlx.Tx) error {
		var err error
		c, err = ledger.AddComment(ctx, tx, p.UserID, postID, body, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Comments.WithLabelValues("added").Inc()
	return c, nil
}

func (s *Service) DeleteComment(ctx context.Context, p policy.Principal, commentID int64) error {
	if err := policy.Authenticated(p).Err(); err != nil {
		return err
	}
	err := s.tx(ctx, "delete comment", func(tx *sqlx.Tx) error {
		return ledger.DeleteComment(ctx, tx, p.UserID, commentID)
	})
	if err != nil {
		return err
	}
	s.metrics.Comments.WithLabelValues("deleted").Inc()
	return nil
}
