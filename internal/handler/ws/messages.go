package ws

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Client → server message types
const (
	MsgJoinRoom          = "join_room"
	MsgLeaveRoom         = "leave_room"
	MsgOffer             = "offer"
	MsgAnswer            = "answer"
	MsgICECandidate      = "ice_candidate"
	MsgMediaStatus       = "media_status"
	MsgScreenShareStatus = "screen_share_status"
	MsgQualityReport     = "quality_report"
	MsgRecordingStatus   = "recording_status"
)

// Server → client message types
const (
	MsgAuthenticated            = "authenticated"
	MsgRoomJoined               = "room_joined"
	MsgPeerJoined               = "peer_joined"
	MsgPeerLeft                 = "peer_left"
	MsgMediaStatusChanged       = "media_status_changed"
	MsgScreenShareStatusChanged = "screen_share_status_changed"
	MsgRecordingStarted         = "recording_started"
	MsgRecordingStopped         = "recording_stopped"
	MsgCallEnded                = "call_ended"
	MsgError                    = "error"
)

// Envelope is the single wire format: one JSON envelope per message. The
// payload is opaque to routing; offer/answer/ice_candidate payloads are
// forwarded without interpretation.
type Envelope struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	TargetPeerID string          `json:"targetPeerId,omitempty"`
	FromPeerID   string          `json:"fromPeerId,omitempty"`
	RoomID       string          `json:"roomId,omitempty"`
}

// marshalEnvelope builds a wire frame from a message type and payload struct
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		env.Payload = encoded
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", msgType, err)
	}
	return data, nil
}

// AuthenticatedPayload confirms the connection's identity to the client
type AuthenticatedPayload struct {
	PeerID string    `json:"peerId"`
	UserID uuid.UUID `json:"userId"`
}

// JoinRoomPayload asks to join a room by room token or call ID
type JoinRoomPayload struct {
	RoomID       string     `json:"roomId,omitempty"`
	CallID       *uuid.UUID `json:"callId,omitempty"`
	AudioEnabled *bool      `json:"audioEnabled,omitempty"`
	VideoEnabled *bool      `json:"videoEnabled,omitempty"`
}

// PeerInfo describes one room member and its media state
type PeerInfo struct {
	PeerID        string    `json:"peerId"`
	UserID        uuid.UUID `json:"userId"`
	AudioEnabled  bool      `json:"audioEnabled"`
	VideoEnabled  bool      `json:"videoEnabled"`
	ScreenSharing bool      `json:"screenSharing"`
}

// ICEServers is the connectivity configuration snapshot from the call record
type ICEServers struct {
	Stun []string `json:"stun"`
	Turn []string `json:"turn"`
}

// RoomJoinedPayload is returned to a successful joiner
type RoomJoinedPayload struct {
	RoomID        string     `json:"roomId"`
	CallID        uuid.UUID  `json:"callId"`
	PeerID        string     `json:"peerId"`
	ExistingPeers []PeerInfo `json:"existingPeers"`
	ICEServers    ICEServers `json:"iceServers"`
}

// PeerLeftPayload announces a departure to the remaining members
type PeerLeftPayload struct {
	PeerID string    `json:"peerId"`
	UserID uuid.UUID `json:"userId"`
}

// MediaStatusPayload carries the sender's current media toggles
type MediaStatusPayload struct {
	AudioEnabled  bool `json:"audioEnabled"`
	VideoEnabled  bool `json:"videoEnabled"`
	ScreenSharing bool `json:"screenSharing"`
}

// MediaStatusChangedPayload is the broadcast form of a media toggle
type MediaStatusChangedPayload struct {
	PeerID        string    `json:"peerId"`
	UserID        uuid.UUID `json:"userId"`
	AudioEnabled  bool      `json:"audioEnabled"`
	VideoEnabled  bool      `json:"videoEnabled"`
	ScreenSharing bool      `json:"screenSharing"`
}

// ScreenShareStatusPayload starts or stops the sender's screen share
type ScreenShareStatusPayload struct {
	ScreenSharing  bool   `json:"screenSharing"`
	ScreenStreamID string `json:"screenStreamId,omitempty"`
}

// ScreenShareStatusChangedPayload is the broadcast form of a share change
type ScreenShareStatusChangedPayload struct {
	PeerID         string    `json:"peerId"`
	UserID         uuid.UUID `json:"userId"`
	ScreenSharing  bool      `json:"screenSharing"`
	ScreenStreamID string    `json:"screenStreamId,omitempty"`
}

// QualityReportPayload carries the sender's connection quality sample
type QualityReportPayload struct {
	Bitrate        int     `json:"bitrate"`
	PacketLoss     float64 `json:"packetLoss"`
	Latency        int     `json:"latency"`
	NetworkQuality string  `json:"networkQuality"`
}

// RecordingStatusPayload starts or stops recording; only the host may send it
type RecordingStatusPayload struct {
	Recording bool  `json:"recording"`
	Consent   *bool `json:"consent,omitempty"`
}

// RecordingStartedPayload asks every member for recording consent
type RecordingStartedPayload struct {
	RequestConsent bool `json:"requestConsent"`
}

// CallEndedPayload announces room teardown to every connected member
type CallEndedPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload is an error frame; the connection stays open
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
