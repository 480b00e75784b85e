package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
)

type User struct {
	ID            int64     `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	Nickname      string    `db:"nickname" json:"nickname"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	HashScheme    string    `db:"hash_scheme" json:"-"`
	Role          Role      `db:"role" json:"role"`
	CreditBalance int       `db:"credit_balance" json:"credit_balance"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// NewUser carries the columns set at registration.
type NewUser struct {
	Email        string
	Nickname     string
	PasswordHash string
	HashScheme   string
	Role         Role
	CreatedAt    time.Time
}

type Session struct {
	ID        string     `db:"id"`
	UserID    int64      `db:"user_id"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

// Active reports whether the session can still authenticate requests at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

type Post struct {
	ID        int64     `db:"id" json:"id"`
	AuthorID  int64     `db:"author_id" json:"author_id"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type View struct {
	UserID    int64     `db:"user_id"`
	PostID    int64     `db:"post_id"`
	CreatedAt time.Time `db:"created_at"`
}

type Rating struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	PostID    int64     `db:"post_id" json:"post_id"`
	Value     int       `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Comment struct {
	ID             int64     `db:"id" json:"id"`
	PostID         int64     `db:"post_id" json:"post_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	AuthorNickname string    `db:"nickname" json:"nickname"`
	Body           string    `db:"body" json:"body"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	IsOwner        bool      `db:"-" json:"is_owner"`
}
