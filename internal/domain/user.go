package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a platform user as seen by the call service
// Maps to CockroachDB users table
type User struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Email       string    `json:"email" db:"email"`
	Username    string    `json:"username" db:"username"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	Role        string    `json:"role" db:"role"` // user, admin
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// IsAdmin reports whether the user holds the administrator role
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}

// UserSummary is the profile projection attached to call participants
type UserSummary struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

// Summary converts a User to its participant-facing projection
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		UserID:      u.UserID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}
