package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"talentbridge-backend/internal/domain"
	"talentbridge-backend/internal/service/call"
	"talentbridge-backend/pkg/constants"
	apperrors "talentbridge-backend/pkg/errors"
	"talentbridge-backend/pkg/logger"
	"talentbridge-backend/pkg/metrics"
)

// SignalingHub is the room registry: it maps room tokens to live WebSocket
// memberships and routes signaling traffic between peers. The call service
// stays authoritative for admission and lifecycle; the hub only tracks who is
// connected right now.
type SignalingHub struct {
	calls       *call.Service
	redisClient *redis.Client
	metrics     *metrics.Metrics

	// instanceID tags frames published through Redis so an instance can
	// skip its own fan-out
	instanceID string

	mu                  sync.RWMutex
	rooms               map[string]*room
	subscriptionCancels map[string]context.CancelFunc

	maxConnections int
	semaphore      chan struct{}
}

// relayFrame is the cross-instance fan-out format on Redis Pub/Sub
type relayFrame struct {
	Origin  string          `json:"origin"`
	Target  string          `json:"target,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Close   bool            `json:"close,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// GetAllowedOrigins returns allowed WebSocket origins from environment or defaults
func GetAllowedOrigins() map[string]bool {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return allowedOrigins
}

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}

		allowedOrigins := GetAllowedOrigins()
		for allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// NewSignalingHub creates a new signaling hub. redisClient may be nil; the
// hub then works single-instance with no cross-instance fan-out.
func NewSignalingHub(callService *call.Service, redisClient *redis.Client, m *metrics.Metrics) *SignalingHub {
	maxConns := constants.DefaultMaxSignalingConnections
	if val := os.Getenv("WS_MAX_SIGNALING_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	return &SignalingHub{
		calls:               callService,
		redisClient:         redisClient,
		metrics:             m,
		instanceID:          uuid.New().String(),
		rooms:               make(map[string]*room),
		subscriptionCancels: make(map[string]context.CancelFunc),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}
}

// ServeWS upgrades an authenticated request to a signaling connection
func (h *SignalingHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		<-h.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		<-h.semaphore
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := newSignalingClient(h, conn, userID)
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}

	client.sendMessage(MsgAuthenticated, AuthenticatedPayload{
		PeerID: client.peerID,
		UserID: client.userID,
	})

	go client.writePump()
	go client.readPump()
}

// dispatch routes one inbound frame. Called from the connection's readPump,
// one frame at a time.
func (h *SignalingHub) dispatch(c *SignalingClient, env *Envelope) {
	if h.metrics != nil {
		h.metrics.MessageReceived(env.Type)
	}

	switch env.Type {
	case MsgJoinRoom:
		h.handleJoinRoom(c, env)
	case MsgLeaveRoom:
		h.leaveCurrentRoom(c)
	case MsgOffer, MsgAnswer, MsgICECandidate:
		h.handleSignal(c, env)
	case MsgMediaStatus:
		h.handleMediaStatus(c, env)
	case MsgScreenShareStatus:
		h.handleScreenShare(c, env)
	case MsgQualityReport:
		h.handleQualityReport(c, env)
	case MsgRecordingStatus:
		h.handleRecordingStatus(c, env)
	default:
		c.sendError(apperrors.ValidationError("unknown message type: " + env.Type))
	}
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.DefaultTimeout)
}

// handleJoinRoom admits the connection into a room. The admission check, the
// member snapshot and the peer_joined broadcast all happen under the room
// lock, so two concurrent joiners each see the other exactly once: in the
// snapshot or as a broadcast, never both or neither.
func (h *SignalingHub) handleJoinRoom(c *SignalingClient, env *Envelope) {
	if roomID, _ := c.currentRoom(); roomID != "" {
		c.sendError(apperrors.ConflictError("already in a room"))
		return
	}

	var p JoinRoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError(apperrors.ValidationError("malformed join_room payload"))
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	target, err := h.calls.ResolveCall(ctx, p.RoomID, p.CallID)
	if err != nil {
		c.sendError(err)
		return
	}

	// A room can close between lookup and lock when its last peer leaves
	// at the same moment, so retry once with a fresh room.
	for attempt := 0; attempt < 2; attempt++ {
		rm, created := h.getOrCreateRoom(target.RoomID, target.CallID)

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}

		joined, participant, err := h.calls.ConnectPeer(ctx, target.RoomID, nil, c.userID, &call.MediaConstraints{
			AudioEnabled: p.AudioEnabled,
			VideoEnabled: p.VideoEnabled,
		})
		if err != nil {
			empty := len(rm.peers) == 0
			rm.mu.Unlock()
			if empty {
				h.removeRoomIfEmpty(target.RoomID)
			}
			c.sendError(err)
			return
		}

		c.bindRoom(rm.id, joined.CallID, participant.AudioEnabled, participant.VideoEnabled)
		existing := rm.snapshotLocked(c.peerID)
		rm.peers[c.peerID] = c

		c.sendMessage(MsgRoomJoined, RoomJoinedPayload{
			RoomID:        rm.id,
			CallID:        joined.CallID,
			PeerID:        c.peerID,
			ExistingPeers: existing,
			ICEServers: ICEServers{
				Stun: joined.StunServers,
				Turn: joined.TurnServers,
			},
		})

		frame, err := marshalEnvelope(MsgPeerJoined, c.peerInfo())
		if err == nil {
			rm.broadcastLocked(c.peerID, frame)
		}
		rm.mu.Unlock()

		if frame != nil {
			h.relay(rm.id, relayFrame{Exclude: c.peerID, Data: frame})
		}
		if created && h.metrics != nil {
			h.metrics.RoomOpened()
		}
		logger.Info("Peer joined room",
			zap.String("room_id", rm.id),
			zap.String("peer_id", c.peerID),
			zap.String("user_id", c.userID.String()))
		return
	}

	c.sendError(apperrors.CallEndedError())
}

// leaveCurrentRoom detaches the connection from its room, reports the leave to
// the call service, and then announces the departure. The store write happens
// before the peer_left broadcast so peers never hear about a leave the store
// has not seen. Safe to call when the connection is not in a room.
func (h *SignalingHub) leaveCurrentRoom(c *SignalingClient) {
	roomID, callID := c.currentRoom()
	if roomID == "" {
		return
	}
	c.clearRoom()

	ctx, cancel := opCtx()
	defer cancel()
	if err := h.calls.DisconnectPeer(ctx, callID, c.userID); err != nil && !apperrors.IsCode(err, apperrors.ErrCodeCallEnded) {
		logger.Warn("Failed to record signaling leave",
			zap.String("call_id", callID.String()),
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}

	if rm := h.roomFor(roomID); rm != nil {
		var frame []byte
		rm.mu.Lock()
		if _, ok := rm.peers[c.peerID]; ok {
			delete(rm.peers, c.peerID)
			frame, _ = marshalEnvelope(MsgPeerLeft, PeerLeftPayload{
				PeerID: c.peerID,
				UserID: c.userID,
			})
			rm.broadcastLocked(c.peerID, frame)
		}
		empty := len(rm.peers) == 0
		rm.mu.Unlock()

		if frame != nil {
			h.relay(roomID, relayFrame{Exclude: c.peerID, Data: frame})
		}
		if empty {
			h.removeRoomIfEmpty(roomID)
		}
	}
}

// handleDisconnect runs when a connection's readPump exits. A dropped socket
// is an implicit leave.
func (h *SignalingHub) handleDisconnect(c *SignalingClient) {
	h.leaveCurrentRoom(c)
	if h.metrics != nil {
		h.metrics.ConnectionClosed()
	}
	<-h.semaphore
}

// handleSignal forwards an offer, answer or ICE candidate to one target peer.
// The payload is opaque; a missing target is dropped silently since peers
// race their departures against in-flight frames.
func (h *SignalingHub) handleSignal(c *SignalingClient, env *Envelope) {
	rm, _, ok := h.clientRoom(c)
	if !ok {
		return
	}
	if env.TargetPeerID == "" {
		c.sendError(apperrors.MissingFieldError("targetPeerId"))
		return
	}

	out := Envelope{
		Type:         env.Type,
		Payload:      env.Payload,
		TargetPeerID: env.TargetPeerID,
		FromPeerID:   c.peerID,
		RoomID:       rm.id,
	}
	data, err := json.Marshal(out)
	if err != nil {
		c.sendError(apperrors.InternalError("failed to encode frame"))
		return
	}

	rm.mu.Lock()
	delivered := rm.sendToLocked(env.TargetPeerID, data)
	rm.mu.Unlock()

	if delivered {
		if h.metrics != nil {
			h.metrics.MessageSent(env.Type)
		}
		return
	}
	// The target may live on another instance
	h.relay(rm.id, relayFrame{Target: env.TargetPeerID, Data: data})
}

// handleMediaStatus persists the sender's audio/video toggles and then
// broadcasts the change. The store write comes first so a peer that joins
// mid-broadcast still snapshots the new state.
func (h *SignalingHub) handleMediaStatus(c *SignalingClient, env *Envelope) {
	rm, callID, ok := h.clientRoom(c)
	if !ok {
		return
	}

	var p MediaStatusPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError(apperrors.ValidationError("malformed media_status payload"))
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	participant, err := h.calls.ToggleParticipantMedia(ctx, callID, c.userID, &p.AudioEnabled, &p.VideoEnabled)
	if err != nil {
		c.sendError(err)
		return
	}
	c.setMediaState(participant.AudioEnabled, participant.VideoEnabled, participant.ScreenSharing)

	h.broadcastToRoom(rm, c.peerID, MsgMediaStatusChanged, MediaStatusChangedPayload{
		PeerID:        c.peerID,
		UserID:        c.userID,
		AudioEnabled:  participant.AudioEnabled,
		VideoEnabled:  participant.VideoEnabled,
		ScreenSharing: participant.ScreenSharing,
	})
}

// handleScreenShare starts or stops the sender's screen share. Exclusivity is
// enforced by the call service; a second sharer gets an error frame and the
// room state stays untouched.
func (h *SignalingHub) handleScreenShare(c *SignalingClient, env *Envelope) {
	rm, callID, ok := h.clientRoom(c)
	if !ok {
		return
	}

	var p ScreenShareStatusPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError(apperrors.ValidationError("malformed screen_share_status payload"))
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	var participant *domain.CallParticipant
	var err error
	if p.ScreenSharing {
		participant, err = h.calls.StartScreenShare(ctx, callID, c.userID)
	} else {
		participant, err = h.calls.StopScreenShare(ctx, callID, c.userID)
	}
	if err != nil {
		c.sendError(err)
		return
	}

	streamID := ""
	if participant.ScreenSharing {
		streamID = p.ScreenStreamID
	}
	c.setScreenShare(participant.ScreenSharing, streamID)

	h.broadcastToRoom(rm, c.peerID, MsgScreenShareStatusChanged, ScreenShareStatusChangedPayload{
		PeerID:         c.peerID,
		UserID:         c.userID,
		ScreenSharing:  participant.ScreenSharing,
		ScreenStreamID: streamID,
	})
}

// handleQualityReport persists a connection quality sample. Reports are not
// broadcast to peers.
func (h *SignalingHub) handleQualityReport(c *SignalingClient, env *Envelope) {
	_, callID, ok := h.clientRoom(c)
	if !ok {
		return
	}

	var p QualityReportPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError(apperrors.ValidationError("malformed quality_report payload"))
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	err := h.calls.UpdateQualityMetrics(ctx, callID, c.userID, domain.QualityMetrics{
		NetworkQuality: p.NetworkQuality,
		AvgBitrate:     p.Bitrate,
		PacketLoss:     p.PacketLoss,
		AvgLatency:     p.Latency,
	})
	if err != nil {
		c.sendError(err)
	}
}

// handleRecordingStatus toggles recording (host only) or records the sender's
// consent answer. A recording start is broadcast to everyone, including the
// sender, with a consent request.
func (h *SignalingHub) handleRecordingStatus(c *SignalingClient, env *Envelope) {
	rm, callID, ok := h.clientRoom(c)
	if !ok {
		return
	}

	var p RecordingStatusPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendError(apperrors.ValidationError("malformed recording_status payload"))
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	if p.Consent != nil {
		if _, err := h.calls.RecordConsent(ctx, callID, c.userID, *p.Consent); err != nil {
			c.sendError(err)
		}
		return
	}

	if _, err := h.calls.SetRecording(ctx, callID, c.userID, p.Recording); err != nil {
		c.sendError(err)
		return
	}

	if p.Recording {
		h.broadcastToRoom(rm, "", MsgRecordingStarted, RecordingStartedPayload{RequestConsent: true})
	} else {
		h.broadcastToRoom(rm, "", MsgRecordingStopped, nil)
	}
}

// CloseRoom tears down the live room for an ended call and notifies every
// connected member. Tolerates rooms that no longer exist; the lifecycle side
// calls it for every ended call whether or not anyone is connected here.
func (h *SignalingHub) CloseRoom(roomID, reason string) {
	h.closeLocalRoom(roomID, reason)
	h.relay(roomID, relayFrame{Close: true, Reason: reason})
}

func (h *SignalingHub) closeLocalRoom(roomID, reason string) {
	h.mu.Lock()
	rm := h.rooms[roomID]
	delete(h.rooms, roomID)
	cancel := h.subscriptionCancels[roomID]
	delete(h.subscriptionCancels, roomID)
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rm == nil {
		return
	}

	frame, err := marshalEnvelope(MsgCallEnded, CallEndedPayload{Reason: reason})

	rm.mu.Lock()
	rm.closed = true
	if err == nil {
		rm.broadcastLocked("", frame)
	}
	for _, client := range rm.peers {
		client.clearRoom()
	}
	rm.peers = make(map[string]*SignalingClient)
	rm.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RoomClosed()
	}
	logger.Info("Room closed",
		zap.String("room_id", roomID),
		zap.String("reason", reason))
}

// clientRoom resolves the connection's current room or reports why it cannot
func (h *SignalingHub) clientRoom(c *SignalingClient) (*room, uuid.UUID, bool) {
	roomID, callID := c.currentRoom()
	if roomID == "" {
		c.sendError(apperrors.ValidationError("join a room first"))
		return nil, uuid.Nil, false
	}
	rm := h.roomFor(roomID)
	if rm == nil {
		c.clearRoom()
		c.sendError(apperrors.CallEndedError())
		return nil, uuid.Nil, false
	}
	return rm, callID, true
}

func (h *SignalingHub) roomFor(roomID string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

func (h *SignalingHub) getOrCreateRoom(roomID string, callID uuid.UUID) (*room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rm, ok := h.rooms[roomID]; ok {
		return rm, false
	}

	rm := newRoom(roomID, callID)
	h.rooms[roomID] = rm

	if h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.subscriptionCancels[roomID] = cancel
		go h.subscribeRoom(ctx, roomID)
	}

	return rm, true
}

// removeRoomIfEmpty discards a room once its last peer is gone
func (h *SignalingHub) removeRoomIfEmpty(roomID string) {
	h.mu.Lock()
	rm, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}

	rm.mu.Lock()
	empty := len(rm.peers) == 0
	if empty {
		rm.closed = true
		delete(h.rooms, roomID)
		if cancel, ok := h.subscriptionCancels[roomID]; ok {
			cancel()
			delete(h.subscriptionCancels, roomID)
		}
	}
	rm.mu.Unlock()
	h.mu.Unlock()

	if empty && h.metrics != nil {
		h.metrics.RoomClosed()
	}
}

// broadcastToRoom builds one frame, fans it out locally and relays it to the
// other instances. exclude may be empty to include the sender.
func (h *SignalingHub) broadcastToRoom(rm *room, exclude, msgType string, payload any) {
	frame, err := marshalEnvelope(msgType, payload)
	if err != nil {
		logger.Error("Failed to build signaling frame",
			zap.String("type", msgType),
			zap.Error(err))
		return
	}

	rm.mu.Lock()
	rm.broadcastLocked(exclude, frame)
	rm.mu.Unlock()

	if h.metrics != nil {
		h.metrics.MessageSent(msgType)
	}
	h.relay(rm.id, relayFrame{Exclude: exclude, Data: frame})
}

// relay publishes a frame to the room's Redis channel for the other
// instances. Best effort; a single-instance deployment has no Redis client
// and skips this entirely.
func (h *SignalingHub) relay(roomID string, frame relayFrame) {
	if h.redisClient == nil {
		return
	}
	frame.Origin = h.instanceID

	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Failed to encode relay frame", zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := opCtx()
		defer cancel()
		if err := h.redisClient.Publish(ctx, roomChannel(roomID), payload).Err(); err != nil {
			logger.Warn("Failed to relay signaling frame",
				zap.String("room_id", roomID),
				zap.Error(err))
		}
	}()
}

func roomChannel(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// subscribeRoom consumes the room's Redis channel and applies frames from the
// other instances to the local membership
func (h *SignalingHub) subscribeRoom(ctx context.Context, roomID string) {
	pubsub := h.redisClient.Subscribe(ctx, roomChannel(roomID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to room channel",
			zap.String("room_id", roomID),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}

			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Warn("Failed to unmarshal relay frame",
					zap.String("room_id", roomID),
					zap.Error(err))
				continue
			}
			if frame.Origin == h.instanceID {
				continue
			}

			if frame.Close {
				h.closeLocalRoom(roomID, frame.Reason)
				return
			}

			rm := h.roomFor(roomID)
			if rm == nil {
				continue
			}
			rm.mu.Lock()
			if frame.Target != "" {
				rm.sendToLocked(frame.Target, frame.Data)
			} else {
				rm.broadcastLocked(frame.Exclude, frame.Data)
			}
			rm.mu.Unlock()
		}
	}
}
