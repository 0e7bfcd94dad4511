package ws

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentbridge-backend/internal/domain"
	"talentbridge-backend/internal/service/call"
	apperrors "talentbridge-backend/pkg/errors"
	"talentbridge-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

func newTestHub() *SignalingHub {
	return NewSignalingHub(nil, nil, nil)
}

func newTestClient(h *SignalingHub) *SignalingClient {
	return &SignalingClient{
		hub:    h,
		send:   make(chan []byte, 8),
		peerID: uuid.New().String(),
		userID: uuid.New(),
	}
}

// recvFrame pulls the next queued frame off a client's outbound buffer
func recvFrame(t *testing.T, c *SignalingClient) Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	default:
		t.Fatal("expected a queued frame")
		return Envelope{}
	}
}

func TestMarshalEnvelope(t *testing.T) {
	data, err := marshalEnvelope(MsgError, ErrorPayload{Code: "CALL_FULL", Message: "Call is full"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, MsgError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "CALL_FULL", payload.Code)
	assert.Equal(t, "Call is full", payload.Message)
}

func TestMarshalEnvelope_NilPayload(t *testing.T) {
	data, err := marshalEnvelope(MsgRecordingStopped, nil)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "type")
	assert.NotContains(t, raw, "payload")
}

// TestEnvelopeWireFormat pins the camelCase field names clients send
func TestEnvelopeWireFormat(t *testing.T) {
	frame := []byte(`{"type":"offer","targetPeerId":"peer-b","payload":{"sdp":"v=0"}}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, MsgOffer, env.Type)
	assert.Equal(t, "peer-b", env.TargetPeerID)
	assert.NotEmpty(t, env.Payload)
}

func TestRoomSnapshotExcludesSelf(t *testing.T) {
	hub := newTestHub()
	rm := newRoom("room-1", uuid.New())

	a := newTestClient(hub)
	b := newTestClient(hub)
	rm.peers[a.peerID] = a
	rm.peers[b.peerID] = b

	rm.mu.Lock()
	peers := rm.snapshotLocked(a.peerID)
	rm.mu.Unlock()

	require.Len(t, peers, 1)
	assert.Equal(t, b.peerID, peers[0].PeerID)
	assert.Equal(t, b.userID, peers[0].UserID)
}

func TestRoomBroadcastSkipsExcludedAndSlow(t *testing.T) {
	hub := newTestHub()
	rm := newRoom("room-1", uuid.New())

	sender := newTestClient(hub)
	fast := newTestClient(hub)
	slow := newTestClient(hub)
	slow.send = make(chan []byte, 1)
	slow.send <- []byte("stuck")

	rm.peers[sender.peerID] = sender
	rm.peers[fast.peerID] = fast
	rm.peers[slow.peerID] = slow

	rm.mu.Lock()
	rm.broadcastLocked(sender.peerID, []byte(`{"type":"peer_left"}`))
	rm.mu.Unlock()

	assert.Len(t, fast.send, 1)
	assert.Len(t, sender.send, 0)
	// The slow client keeps its old frame; the new one was dropped
	assert.Len(t, slow.send, 1)
}

func TestRoomSendToMissingPeer(t *testing.T) {
	rm := newRoom("room-1", uuid.New())

	rm.mu.Lock()
	delivered := rm.sendToLocked("nobody", []byte("{}"))
	rm.mu.Unlock()

	assert.False(t, delivered)
}

func TestGetOrCreateRoom(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()

	first, created := hub.getOrCreateRoom("room-1", callID)
	assert.True(t, created)
	assert.Equal(t, callID, first.callID)

	second, created := hub.getOrCreateRoom("room-1", callID)
	assert.False(t, created)
	assert.Same(t, first, second)
}

func TestRemoveRoomIfEmpty(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)

	occupied, _ := hub.getOrCreateRoom("occupied", uuid.New())
	occupied.peers[client.peerID] = client
	hub.removeRoomIfEmpty("occupied")
	assert.NotNil(t, hub.roomFor("occupied"))
	assert.False(t, occupied.closed)

	empty, _ := hub.getOrCreateRoom("empty", uuid.New())
	hub.removeRoomIfEmpty("empty")
	assert.Nil(t, hub.roomFor("empty"))
	assert.True(t, empty.closed)
}

func TestCloseRoom(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()
	rm, _ := hub.getOrCreateRoom("room-1", callID)

	a := newTestClient(hub)
	b := newTestClient(hub)
	a.bindRoom("room-1", callID, true, false)
	b.bindRoom("room-1", callID, true, false)
	rm.peers[a.peerID] = a
	rm.peers[b.peerID] = b

	hub.CloseRoom("room-1", "ended_by_host")

	for _, client := range []*SignalingClient{a, b} {
		env := recvFrame(t, client)
		assert.Equal(t, MsgCallEnded, env.Type)

		var payload CallEndedPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "ended_by_host", payload.Reason)

		roomID, _ := client.currentRoom()
		assert.Empty(t, roomID)
	}

	assert.Nil(t, hub.roomFor("room-1"))
	assert.True(t, rm.closed)

	// Closing an unknown room is a no-op
	hub.CloseRoom("room-1", "ended_by_host")
}

func TestDispatchUnknownType(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)

	hub.dispatch(client, &Envelope{Type: "teleport"})

	env := recvFrame(t, client)
	assert.Equal(t, MsgError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, string(apperrors.ErrCodeValidation), payload.Code)
}

func TestHandleSignal_RequiresRoom(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)

	hub.dispatch(client, &Envelope{Type: MsgOffer, TargetPeerID: "peer-b"})

	env := recvFrame(t, client)
	assert.Equal(t, MsgError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, string(apperrors.ErrCodeValidation), payload.Code)
}

// TestHandleSignal_RoomGone covers a connection whose room was torn down
// between frames: the stale binding is cleared and the client is told the
// call ended
func TestHandleSignal_RoomGone(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub)
	client.bindRoom("vanished", uuid.New(), true, true)

	hub.dispatch(client, &Envelope{Type: MsgOffer, TargetPeerID: "peer-b"})

	env := recvFrame(t, client)
	assert.Equal(t, MsgError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, string(apperrors.ErrCodeCallEnded), payload.Code)

	roomID, _ := client.currentRoom()
	assert.Empty(t, roomID)
}

func TestHandleSignal_MissingTarget(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()
	rm, _ := hub.getOrCreateRoom("room-1", callID)

	client := newTestClient(hub)
	client.bindRoom("room-1", callID, true, true)
	rm.peers[client.peerID] = client

	hub.dispatch(client, &Envelope{Type: MsgAnswer})

	env := recvFrame(t, client)
	assert.Equal(t, MsgError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, string(apperrors.ErrCodeMissingField), payload.Code)
}

// TestHandleSignal_Delivered forwards an offer peer to peer and stamps the
// sender and room onto the envelope
func TestHandleSignal_Delivered(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()
	rm, _ := hub.getOrCreateRoom("room-1", callID)

	sender := newTestClient(hub)
	receiver := newTestClient(hub)
	sender.bindRoom("room-1", callID, true, true)
	receiver.bindRoom("room-1", callID, true, true)
	rm.peers[sender.peerID] = sender
	rm.peers[receiver.peerID] = receiver

	hub.dispatch(sender, &Envelope{
		Type:         MsgOffer,
		TargetPeerID: receiver.peerID,
		Payload:      json.RawMessage(`{"sdp":"v=0"}`),
	})

	env := recvFrame(t, receiver)
	assert.Equal(t, MsgOffer, env.Type)
	assert.Equal(t, sender.peerID, env.FromPeerID)
	assert.Equal(t, receiver.peerID, env.TargetPeerID)
	assert.Equal(t, "room-1", env.RoomID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(env.Payload))

	// The sender gets nothing back on success
	assert.Len(t, sender.send, 0)
}

// fakeCallStore is a minimal in-memory CallStore for hub tests that need a
// real call service behind the hub
type fakeCallStore struct {
	call         *domain.Call
	participants map[uuid.UUID]*domain.CallParticipant
	onRemove     func()
}

func (s *fakeCallStore) CreateCall(ctx context.Context, c *domain.Call) error { return nil }

func (s *fakeCallStore) GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return s.call, nil
}

func (s *fakeCallStore) GetCallByRoomID(ctx context.Context, roomID string) (*domain.Call, error) {
	return s.call, nil
}

func (s *fakeCallStore) GetActiveCalls(ctx context.Context, workspaceID uuid.UUID) ([]*domain.Call, error) {
	return nil, nil
}

func (s *fakeCallStore) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	return nil, nil
}

func (s *fakeCallStore) UserActiveCall(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	return nil, nil
}

func (s *fakeCallStore) UpdateCall(ctx context.Context, callID uuid.UUID, patch *domain.CallUpdate) error {
	return nil
}

func (s *fakeCallStore) EndCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	s.call.Status = domain.CallStatusEnded
	return s.call, nil
}

func (s *fakeCallStore) MergeQualityMetrics(ctx context.Context, callID, userID uuid.UUID, m domain.QualityMetrics) error {
	return nil
}

func (s *fakeCallStore) AddParticipant(ctx context.Context, p *domain.CallParticipant) error {
	s.participants[p.UserID] = p
	return nil
}

func (s *fakeCallStore) GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	out := make([]*domain.CallParticipant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeCallStore) GetParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error) {
	p, ok := s.participants[userID]
	if !ok {
		return nil, apperrors.ParticipantNotFoundError()
	}
	return p, nil
}

func (s *fakeCallStore) UpdateParticipant(ctx context.Context, participantID uuid.UUID, patch *domain.ParticipantUpdate) error {
	return nil
}

func (s *fakeCallStore) RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	if s.onRemove != nil {
		s.onRemove()
	}
	if p, ok := s.participants[userID]; ok {
		p.Status = domain.ParticipantDisconnected
		p.ScreenSharing = false
	}
	return nil
}

// TestLeavePersistsBeforeBroadcast pins the leave ordering: the store must
// record the departure before any remaining peer hears peer_left
func TestLeavePersistsBeforeBroadcast(t *testing.T) {
	callID := uuid.New()
	leaverUserID := uuid.New()
	otherUserID := uuid.New()

	store := &fakeCallStore{
		call: &domain.Call{
			CallID:          callID,
			RoomID:          "room-1",
			InitiatorID:     otherUserID,
			Status:          domain.CallStatusActive,
			MaxParticipants: 15,
			StartedAt:       time.Now(),
		},
		participants: map[uuid.UUID]*domain.CallParticipant{
			leaverUserID: {ParticipantID: uuid.New(), CallID: callID, UserID: leaverUserID, Status: domain.ParticipantConnected},
			otherUserID:  {ParticipantID: uuid.New(), CallID: callID, UserID: otherUserID, Status: domain.ParticipantConnected},
		},
	}

	hub := NewSignalingHub(call.NewService(store, nil, nil, nil), nil, nil)
	rm, _ := hub.getOrCreateRoom("room-1", callID)

	leaver := newTestClient(hub)
	leaver.userID = leaverUserID
	other := newTestClient(hub)
	other.userID = otherUserID
	leaver.bindRoom("room-1", callID, true, true)
	other.bindRoom("room-1", callID, true, true)
	rm.peers[leaver.peerID] = leaver
	rm.peers[other.peerID] = other

	persistedFirst := false
	store.onRemove = func() {
		persistedFirst = len(other.send) == 0
	}

	hub.leaveCurrentRoom(leaver)

	assert.True(t, persistedFirst, "store write must precede the peer_left broadcast")
	assert.Equal(t, domain.ParticipantDisconnected, store.participants[leaverUserID].Status)

	env := recvFrame(t, other)
	assert.Equal(t, MsgPeerLeft, env.Type)

	var payload PeerLeftPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, leaver.peerID, payload.PeerID)

	rm.mu.Lock()
	_, stillThere := rm.peers[leaver.peerID]
	rm.mu.Unlock()
	assert.False(t, stillThere)

	roomID, _ := leaver.currentRoom()
	assert.Empty(t, roomID)
}

// TestJoinConsistency simulates two joiners racing: combined, every joiner
// must learn about the other exactly once, via the snapshot or the broadcast
func TestJoinConsistency(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()
	rm, _ := hub.getOrCreateRoom("room-1", callID)

	first := newTestClient(hub)
	second := newTestClient(hub)

	// First joiner: empty snapshot, registered, broadcast reaches nobody
	rm.mu.Lock()
	firstSnapshot := rm.snapshotLocked(first.peerID)
	rm.peers[first.peerID] = first
	frame, err := marshalEnvelope(MsgPeerJoined, first.peerInfo())
	require.NoError(t, err)
	rm.broadcastLocked(first.peerID, frame)
	rm.mu.Unlock()
	assert.Empty(t, firstSnapshot)

	// Second joiner: sees the first in the snapshot, first hears the broadcast
	rm.mu.Lock()
	secondSnapshot := rm.snapshotLocked(second.peerID)
	rm.peers[second.peerID] = second
	frame, err = marshalEnvelope(MsgPeerJoined, second.peerInfo())
	require.NoError(t, err)
	rm.broadcastLocked(second.peerID, frame)
	rm.mu.Unlock()

	require.Len(t, secondSnapshot, 1)
	assert.Equal(t, first.peerID, secondSnapshot[0].PeerID)

	env := recvFrame(t, first)
	assert.Equal(t, MsgPeerJoined, env.Type)

	var joined PeerInfo
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	assert.Equal(t, second.peerID, joined.PeerID)

	// The second joiner never hears about the first twice
	assert.Len(t, second.send, 0)
}
