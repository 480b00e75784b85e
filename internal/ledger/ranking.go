package ledger

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"jokes/internal/models"
)

type Scope int

const (
	ScopeAll Scope = iota
	// ScopeMine lists the viewer's own jokes.
	ScopeMine
	// ScopeOthers lists jokes the viewer did not write.
	ScopeOthers
)

type Filter struct {
	ViewerID int64
	Scope    Scope
}

// Joke is a ranked listing entry. Body is only filled in when the viewer
// wrote the joke or has unlocked it.
type Joke struct {
	ID             int64     `db:"id" json:"id"`
	AuthorID       int64     `db:"author_id" json:"author_id"`
	AuthorNickname string    `db:"nickname" json:"author"`
	Title          string    `db:"title" json:"title"`
	Body           string    `db:"body" json:"body,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	AvgRating      float64   `db:"avg_rating" json:"avg_rating"`
	RatingCount    int       `db:"rating_count" json:"rating_count"`
	Unlocked       bool      `db:"unlocked" json:"unlocked"`
}

const rankedQuery = `SELECT p.id, p.author_id, u.nickname, p.title, p.body, p.created_at,
        COALESCE(AVG(r.value), 0) AS avg_rating,
        COUNT(r.post_id) AS rating_count,
        EXISTS (SELECT 1 FROM views v WHERE v.post_id = p.id AND v.user_id = ?) AS unlocked
    FROM posts p
    JOIN users u ON u.id = p.author_id
    LEFT JOIN ratings r ON r.post_id = p.id`

const rankedGroupOrder = `
    GROUP BY p.id, p.author_id, u.nickname, p.title, p.body, p.created_at
    ORDER BY avg_rating DESC, p.created_at DESC, p.id DESC`

// ListJokes returns jokes ranked by average rating, newest first among equal
// averages. The order is total: remaining ties fall back to id.
func ListJokes(ctx context.Context, q models.Queryer, f Filter) ([]Joke, error) {
	query := rankedQuery
	args := []any{f.ViewerID}
	switch f.Scope {
	case ScopeMine:
		query += ` WHERE p.author_id = ?`
		args = append(args, f.ViewerID)
	case ScopeOthers:
		query += ` WHERE p.author_id <> ?`
		args = append(args, f.ViewerID)
	}
	query += rankedGroupOrder

	jokes := []Joke{}
	if err := sqlx.SelectContext(ctx, q, &jokes, q.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "list jokes")
	}
	for i := range jokes {
		j := &jokes[i]
		j.AvgRating = RoundRating(j.AvgRating)
		if j.AuthorID == f.ViewerID {
			j.Unlocked = true
		}
		if !j.Unlocked {
			j.Body = ""
		}
	}
	return jokes, nil
}
