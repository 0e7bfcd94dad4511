package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification types dispatched by the call service
const (
	NotificationTypeCallInvite       = "call_invite"
	NotificationTypeHuddleStarted    = "huddle_started"
	NotificationTypeCallEnded        = "call_ended"
	NotificationTypeRecordingStarted = "recording_started"
)

// Notification represents a stored user notification
// Maps to CockroachDB notifications table
type Notification struct {
	NotificationID uuid.UUID              `json:"notification_id" db:"notification_id"`
	UserID         uuid.UUID              `json:"user_id" db:"user_id"`
	Type           string                 `json:"type" db:"type"`
	Title          string                 `json:"title" db:"title"`
	Body           string                 `json:"body" db:"body"`
	Data           map[string]interface{} `json:"data,omitempty" db:"data"`
	IsRead         bool                   `json:"is_read" db:"is_read"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}

// NotificationCreate represents data needed to create a notification
type NotificationCreate struct {
	UserID uuid.UUID
	Type   string
	Title  string
	Body   string
	Data   map[string]interface{}
}
