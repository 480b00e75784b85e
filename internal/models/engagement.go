package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// InsertView records that userID unlocked postID. It reports false when the
// pair was already recorded.
func InsertView(ctx context.Context, q Queryer, userID, postID int64, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO views (user_id, post_id, created_at) VALUES (?, ?, ?)
        ON CONFLICT (user_id, post_id) DO NOTHING`), userID, postID, at.UTC())
	if err != nil {
		return false, classify(err, "insert view")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "insert view")
	}
	return n == 1, nil
}

func HasView(ctx context.Context, q Queryer, userID, postID int64) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM views WHERE user_id = ? AND post_id = ?`), userID, postID)
	if err != nil {
		return false, errors.Wrap(err, "has view")
	}
	return n > 0, nil
}

func CountViews(ctx context.Context, q Queryer, postID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM views WHERE post_id = ?`), postID)
	return n, errors.Wrap(err, "count views")
}

// UpsertRating inserts the user's rating or overwrites the previous one.
func UpsertRating(ctx context.Context, q Queryer, userID, postID int64, value int, at time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO ratings (user_id, post_id, value, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id, post_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		userID, postID, value, at.UTC())
	return classify(err, "upsert rating")
}

// GetRating returns the user's rating of the post, or nil if there is none.
func GetRating(ctx context.Context, q Queryer, userID, postID int64) (*Rating, error) {
	var r Rating
	err := sqlx.GetContext(ctx, q, &r, q.Rebind(`SELECT user_id, post_id, value, updated_at FROM ratings
        WHERE user_id = ? AND post_id = ?`), userID, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get rating")
	}
	return &r, nil
}

func ListRatings(ctx context.Context, q Queryer, postID int64) ([]Rating, error) {
	ratings := []Rating{}
	err := sqlx.SelectContext(ctx, q, &ratings, q.Rebind(`SELECT user_id, post_id, value, updated_at FROM ratings
        WHERE post_id = ? ORDER BY user_id`), postID)
	return ratings, errors.Wrap(err, "list ratings")
}

// RatingStats returns the raw mean and number of ratings of a post.
func RatingStats(ctx context.Context, q Queryer, postID int64) (float64, int, error) {
	var row struct {
		Avg   float64 `db:"avg_rating"`
		Count int     `db:"rating_count"`
	}
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT COALESCE(AVG(value), 0) AS avg_rating, COUNT(*) AS rating_count
        FROM ratings WHERE post_id = ?`), postID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "rating stats")
	}
	return row.Avg, row.Count, nil
}

func CreateComment(ctx context.Context, q Queryer, postID, userID int64, body string, at time.Time) (int64, error) {
	var id int64
	err := q.QueryRowxContext(ctx, q.Rebind(`INSERT INTO comments (post_id, user_id, body, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		postID, userID, body, at.UTC()).Scan(&id)
	if err != nil {
		return 0, classify(err, "insert comment")
	}
	return id, nil
}

const commentColumns = `c.id, c.post_id, c.user_id, u.nickname, c.body, c.created_at`

func GetComment(ctx context.Context, q Queryer, id int64) (*Comment, error) {
	var c Comment
	err := sqlx.GetContext(ctx, q, &c, q.Rebind(`SELECT `+commentColumns+`
        FROM comments c JOIN users u ON u.id = c.user_id WHERE c.id = ?`), id)
	if err != nil {
		return nil, errors.Wrap(err, "get comment")
	}
	return &c, nil
}

func ListComments(ctx context.Context, q Queryer, postID int64) ([]Comment, error) {
	comments := []Comment{}
	err := sqlx.SelectContext(ctx, q, &comments, q.Rebind(`SELECT `+commentColumns+`
        FROM comments c JOIN users u ON u.id = c.user_id
        WHERE c.post_id = ? ORDER BY c.created_at, c.id`), postID)
	return comments, errors.Wrap(err, "list comments")
}

func DeleteComment(ctx context.Context, q Queryer, id int64) error {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM comments WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "delete comment")
	}
	return expectRow(res, "delete comment")
}
