package ws

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"talentbridge-backend/pkg/logger"
)

// room tracks the live WebSocket membership of one call. The room token from
// the call record is the room ID; the call record itself stays authoritative
// for who is allowed in.
type room struct {
	id     string
	callID uuid.UUID

	// mu guards peers. Every membership change and broadcast for this
	// room happens under it, which keeps join snapshots and broadcasts
	// ordered per room.
	mu     sync.Mutex
	peers  map[string]*SignalingClient
	closed bool
}

func newRoom(id string, callID uuid.UUID) *room {
	return &room{
		id:     id,
		callID: callID,
		peers:  make(map[string]*SignalingClient),
	}
}

// snapshotLocked returns the media state of every member except exclude.
// Caller holds the room lock.
func (r *room) snapshotLocked(exclude string) []PeerInfo {
	peers := make([]PeerInfo, 0, len(r.peers))
	for id, client := range r.peers {
		if id == exclude {
			continue
		}
		peers = append(peers, client.peerInfo())
	}
	return peers
}

// broadcastLocked fans a prebuilt frame out to every member except exclude.
// Caller holds the room lock. Slow consumers get the frame dropped rather
// than stalling the room.
func (r *room) broadcastLocked(exclude string, data []byte) {
	for id, client := range r.peers {
		if id == exclude {
			continue
		}
		if !client.trySend(data) {
			logger.Warn("Dropping frame for slow signaling client",
				zap.String("room_id", r.id),
				zap.String("peer_id", id))
		}
	}
}

// sendToLocked delivers a frame to a single member. Caller holds the room
// lock. Returns false when the target is not in the room.
func (r *room) sendToLocked(peerID string, data []byte) bool {
	client, ok := r.peers[peerID]
	if !ok {
		return false
	}
	client.trySend(data)
	return true
}
