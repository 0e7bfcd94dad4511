package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// CallType represents the kind of real-time session
type CallType string

const (
	CallTypeVoice       CallType = "voice"
	CallTypeVideo       CallType = "video"
	CallTypeHuddle      CallType = "huddle"
	CallTypeScreenShare CallType = "screen_share"
)

// ValidCallType reports whether t is a known call type
func ValidCallType(t CallType) bool {
	switch t {
	case CallTypeVoice, CallTypeVideo, CallTypeHuddle, CallTypeScreenShare:
		return true
	}
	return false
}

// CallStatus represents the lifecycle state of a call
type CallStatus string

const (
	CallStatusPending CallStatus = "pending"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
)

// ParticipantStatus represents a user's membership state in a call
type ParticipantStatus string

const (
	ParticipantInvited      ParticipantStatus = "invited"
	ParticipantConnecting   ParticipantStatus = "connecting"
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

// Present reports whether the participant currently occupies a seat in the
// call (mid-join or fully joined)
func (s ParticipantStatus) Present() bool {
	return s == ParticipantConnecting || s == ParticipantConnected
}

// QualityMetrics is one participant's last reported connection quality
type QualityMetrics struct {
	NetworkQuality string    `json:"network_quality"`
	AvgBitrate     int       `json:"avg_bitrate"`
	PacketLoss     float64   `json:"packet_loss"`
	AvgLatency     int       `json:"avg_latency"`
	ReportedAt     time.Time `json:"reported_at"`
}

// Call represents one real-time session (voice, video, huddle or screen share)
// Maps to CockroachDB calls table
type Call struct {
	CallID             uuid.UUID                     `json:"call_id" db:"call_id"`
	WorkspaceID        uuid.UUID                     `json:"workspace_id" db:"workspace_id"`
	ChannelID          *uuid.UUID                    `json:"channel_id,omitempty" db:"channel_id"`
	InitiatorID        uuid.UUID                     `json:"initiator_id" db:"initiator_id"`
	CallType           CallType                      `json:"call_type" db:"call_type"`
	Title              string                        `json:"title,omitempty" db:"title"`
	RoomID             string                        `json:"room_id" db:"room_id"`
	Status             CallStatus                    `json:"status" db:"status"`
	MaxParticipants    int                           `json:"max_participants" db:"max_participants"`
	StunServers        []string                      `json:"stun_servers" db:"stun_servers"`
	TurnServers        []string                      `json:"turn_servers" db:"turn_servers"`
	IsRecording        bool                          `json:"is_recording" db:"is_recording"`
	RecordingStartedAt *time.Time                    `json:"recording_started_at,omitempty" db:"recording_started_at"`
	RecordingStoppedAt *time.Time                    `json:"recording_stopped_at,omitempty" db:"recording_stopped_at"`
	QualityMetrics     map[uuid.UUID]QualityMetrics  `json:"quality_metrics,omitempty" db:"quality_metrics"`
	ScheduledFor       *time.Time                    `json:"scheduled_for,omitempty" db:"scheduled_for"`
	StartedAt          time.Time                     `json:"started_at" db:"started_at"`
	EndedAt            *time.Time                    `json:"ended_at,omitempty" db:"ended_at"`
	TotalDuration      int                           `json:"total_duration,omitempty" db:"total_duration"` // in seconds
}

// CallParticipant represents one user's membership in one call
// Maps to CockroachDB call_participants table
type CallParticipant struct {
	ParticipantID    uuid.UUID         `json:"participant_id" db:"participant_id"`
	CallID           uuid.UUID         `json:"call_id" db:"call_id"`
	UserID           uuid.UUID         `json:"user_id" db:"user_id"`
	Status           ParticipantStatus `json:"status" db:"status"`
	AudioEnabled     bool              `json:"audio_enabled" db:"audio_enabled"`
	VideoEnabled     bool              `json:"video_enabled" db:"video_enabled"`
	ScreenSharing    bool              `json:"screen_sharing" db:"screen_sharing"`
	RecordingConsent bool              `json:"recording_consent" db:"recording_consent"`
	ConsentGivenAt   *time.Time        `json:"consent_given_at,omitempty" db:"consent_given_at"`
	NetworkQuality   string            `json:"network_quality,omitempty" db:"network_quality"`
	AvgBitrate       int               `json:"avg_bitrate,omitempty" db:"avg_bitrate"`
	PacketLoss       float64           `json:"packet_loss,omitempty" db:"packet_loss"`
	AvgLatency       int               `json:"avg_latency,omitempty" db:"avg_latency"`
	JoinedAt         time.Time         `json:"joined_at" db:"joined_at"`
	LeftAt           *time.Time        `json:"left_at,omitempty" db:"left_at"`
}

// CallUpdate is a partial update to a call; nil fields are left untouched
type CallUpdate struct {
	Title              *string
	Status             *CallStatus
	InitiatorID        *uuid.UUID
	MaxParticipants    *int
	StunServers        []string
	TurnServers        []string
	IsRecording        *bool
	RecordingStartedAt *time.Time
	RecordingStoppedAt *time.Time
}

// ParticipantUpdate is a partial update to a call participant
type ParticipantUpdate struct {
	Status           *ParticipantStatus
	AudioEnabled     *bool
	VideoEnabled     *bool
	ScreenSharing    *bool
	RecordingConsent *bool
	ConsentGivenAt   *time.Time
	NetworkQuality   *string
	AvgBitrate       *int
	PacketLoss       *float64
	AvgLatency       *int
	LeftAt           *time.Time
	ClearLeftAt      bool
}

// ParticipantWithProfile pairs a participant row with a user profile summary
// when the directory lookup succeeded
type ParticipantWithProfile struct {
	CallParticipant
	User *UserSummary `json:"user,omitempty"`
}

// CallWithParticipants is the read-side composition of a call and its members
type CallWithParticipants struct {
	Call
	Participants []ParticipantWithProfile `json:"participants"`
}

// RecordingManifest is the durable artifact written when a recording stops
type RecordingManifest struct {
	CallID      uuid.UUID         `json:"call_id"`
	RoomID      string            `json:"room_id"`
	InitiatorID uuid.UUID         `json:"initiator_id"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	StoppedAt   *time.Time        `json:"stopped_at,omitempty"`
	Consents    []RecordingConsent `json:"consents"`
}

// RecordingConsent is one participant's consent state in a recording manifest
type RecordingConsent struct {
	UserID         uuid.UUID  `json:"user_id"`
	Consent        bool       `json:"consent"`
	ConsentGivenAt *time.Time `json:"consent_given_at,omitempty"`
}

// roomIDBytes gives 128 bits of entropy, enough to make room IDs unguessable
const roomIDBytes = 16

// NewRoomID generates a cryptographically random room token
func NewRoomID() string {
	buf := make([]byte, roomIDBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic("domain: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
