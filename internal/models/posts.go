package models

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

func CreatePost(ctx context.Context, q Queryer, authorID int64, title, body string, createdAt time.Time) (int64, error) {
	var id int64
	err := q.QueryRowxContext(ctx, q.Rebind(`INSERT INTO posts (author_id, title, body, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		authorID, title, body, createdAt.UTC()).Scan(&id)
	if err != nil {
		return 0, classify(err, "insert post")
	}
	return id, nil
}

func GetPost(ctx context.Context, q Queryer, id int64) (*Post, error) {
	var p Post
	err := sqlx.GetContext(ctx, q, &p, q.Rebind(`SELECT id, author_id, title, body, created_at FROM posts WHERE id = ?`), id)
	if err != nil {
		return nil, errors.Wrap(err, "get post")
	}
	return &p, nil
}

func UpdatePostBody(ctx context.Context, q Queryer, id int64, body string) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE posts SET body = ? WHERE id = ?`), body, id)
	if err != nil {
		return errors.Wrap(err, "update post")
	}
	return expectRow(res, "update post")
}

// DeletePost removes the post; views, ratings and comments follow through
// ON DELETE CASCADE.
func DeletePost(ctx context.Context, q Queryer, id int64) error {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM posts WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "delete post")
	}
	return expectRow(res, "delete post")
}

func CountPosts(ctx context.Context, q Queryer) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM posts`); err != nil {
		return 0, errors.Wrap(err, "count posts")
	}
	return n, nil
}
