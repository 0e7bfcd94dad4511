package call

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"talentbridge-backend/internal/domain"
)

// CallStore is the durable call-data interface. It is the single source of
// truth for capacity and membership decisions; in-memory room state is never
// trusted for authorization.
type CallStore interface {
	CreateCall(ctx context.Context, call *domain.Call) error
	GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetCallByRoomID(ctx context.Context, roomID string) (*domain.Call, error)
	GetActiveCalls(ctx context.Context, workspaceID uuid.UUID) ([]*domain.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	UserActiveCall(ctx context.Context, userID uuid.UUID) (*domain.Call, error)
	UpdateCall(ctx context.Context, callID uuid.UUID, patch *domain.CallUpdate) error
	EndCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	MergeQualityMetrics(ctx context.Context, callID, userID uuid.UUID, m domain.QualityMetrics) error

	AddParticipant(ctx context.Context, p *domain.CallParticipant) error
	GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
	GetParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error)
	UpdateParticipant(ctx context.Context, participantID uuid.UUID, patch *domain.ParticipantUpdate) error
	RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) error
}

// DirectoryStore resolves users, channels and channel membership
type DirectoryStore interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetChannel(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error)
	UserHasChannelAccess(ctx context.Context, userID, channelID uuid.UUID) (bool, error)
	GetChannelMembers(ctx context.Context, channelID uuid.UUID) ([]*domain.ChannelMember, error)
}

// Notifier dispatches user notifications, best-effort
type Notifier interface {
	Notify(ctx context.Context, create *domain.NotificationCreate) error
}

// RoomRegistry is the signaling-side collaborator that owns ephemeral room
// state. CloseRoom must tolerate rooms that no longer exist.
type RoomRegistry interface {
	CloseRoom(roomID, reason string)
}

// RecordingArchiver stores recording manifests
type RecordingArchiver interface {
	ArchiveManifest(ctx context.Context, m *domain.RecordingManifest) error
}

// callLocks serializes mutations per call ID so the request-triggered and
// connection-triggered paths never interleave a check with a write on the
// same call
type callLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*callLock
}

type callLock struct {
	sync.Mutex
	refs int
}

func newCallLocks() *callLocks {
	return &callLocks{locks: make(map[uuid.UUID]*callLock)}
}

func (c *callLocks) lock(id uuid.UUID) {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &callLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
}

func (c *callLocks) unlock(id uuid.UUID) {
	c.mu.Lock()
	l := c.locks[id]
	l.refs--
	if l.refs == 0 {
		delete(c.locks, id)
	}
	c.mu.Unlock()

	l.Unlock()
}
