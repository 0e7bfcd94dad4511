package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"talentbridge-backend/pkg/constants"
	apperrors "talentbridge-backend/pkg/errors"
	"talentbridge-backend/pkg/logger"
)

// SignalingClient is one authenticated WebSocket connection. Each connection
// gets a unique peer ID, so the same user on two devices shows up as two
// peers.
type SignalingClient struct {
	hub    *SignalingHub
	conn   *websocket.Conn
	send   chan []byte
	peerID string
	userID uuid.UUID

	// mu guards the room binding and the cached media state below. The
	// cache exists so peer snapshots and broadcasts do not hit the store.
	mu             sync.Mutex
	roomID         string
	callID         uuid.UUID
	audioEnabled   bool
	videoEnabled   bool
	screenSharing  bool
	screenStreamID string
}

func newSignalingClient(hub *SignalingHub, conn *websocket.Conn, userID uuid.UUID) *SignalingClient {
	return &SignalingClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, constants.WebSocketSendBufferSize),
		peerID: uuid.New().String(),
		userID: userID,
	}
}

// currentRoom returns the room binding, or "" when not in a room
func (c *SignalingClient) currentRoom() (string, uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.callID
}

func (c *SignalingClient) bindRoom(roomID string, callID uuid.UUID, audio, video bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.callID = callID
	c.audioEnabled = audio
	c.videoEnabled = video
	c.screenSharing = false
	c.screenStreamID = ""
}

func (c *SignalingClient) clearRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = ""
	c.callID = uuid.Nil
	c.screenSharing = false
	c.screenStreamID = ""
}

func (c *SignalingClient) setMediaState(audio, video, screenSharing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = audio
	c.videoEnabled = video
	c.screenSharing = screenSharing
}

func (c *SignalingClient) setScreenShare(sharing bool, streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screenSharing = sharing
	c.screenStreamID = streamID
}

func (c *SignalingClient) peerInfo() PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PeerInfo{
		PeerID:        c.peerID,
		UserID:        c.userID,
		AudioEnabled:  c.audioEnabled,
		VideoEnabled:  c.videoEnabled,
		ScreenSharing: c.screenSharing,
	}
}

// trySend queues a frame without blocking. Returns false when the outbound
// buffer is full.
func (c *SignalingClient) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendMessage builds and queues a frame for this client
func (c *SignalingClient) sendMessage(msgType string, payload any) {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		logger.Error("Failed to build signaling frame",
			zap.String("type", msgType),
			zap.Error(err))
		return
	}
	if c.trySend(data) && c.hub.metrics != nil {
		c.hub.metrics.MessageSent(msgType)
	}
}

// sendError reports a failed operation on this connection. Error frames never
// close the socket.
func (c *SignalingClient) sendError(err error) {
	appErr := apperrors.GetAppError(err)
	c.sendMessage(MsgError, ErrorPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
	if c.hub.metrics != nil {
		c.hub.metrics.SignalingError(string(appErr.Code))
	}
}

// readPump reads frames from the socket and dispatches them one at a time.
// Sequential dispatch per connection is what keeps a client's own messages
// ordered.
func (c *SignalingClient) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("Signaling connection closed",
					zap.String("peer_id", c.peerID),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.sendError(apperrors.ValidationError("malformed message"))
			continue
		}

		c.hub.dispatch(c, &env)
	}
}

// writePump serializes all writes to the socket and keeps the connection
// alive with pings
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
