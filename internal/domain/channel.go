package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel represents a workspace channel a call can be bound to
// Maps to CockroachDB channels table
type Channel struct {
	ChannelID   uuid.UUID `json:"channel_id" db:"channel_id"`
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Name        string    `json:"name" db:"name"`
	IsPrivate   bool      `json:"is_private" db:"is_private"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ChannelMember represents a user's membership in a channel
type ChannelMember struct {
	ChannelID uuid.UUID `json:"channel_id" db:"channel_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Role      string    `json:"role" db:"role"` // member, owner
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}
