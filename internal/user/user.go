package users

import (
	"time"
)

type ContextKey string

const UserKey ContextKey = "user"

type User struct {
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"displayName"`
	Email       string    `db:"email" json:"-"`
	IsAdmin     bool      `db:"is_admin" json:"isAdmin"`
	TotalPoints int       `db:"total_points" json:"totalPoints"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	Provider    *string   `db:"provider" json:"-"`
	ProviderID  *string   `db:"provider_id" json:"-"`
	AvatarURL   *string   `db:"avatar_url" json:"avatarUrl"`

	// Updated on versus heartbeats; presence reads prefer redis and fall
	// back to this.
	LastSeenAt *time.Time `db:"last_seen_at" json:"-"`
}
