package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"talentbridge-backend/internal/domain"
	"talentbridge-backend/pkg/constants"
	apperrors "talentbridge-backend/pkg/errors"
	"talentbridge-backend/pkg/logger"
	"talentbridge-backend/pkg/metrics"
)

// ICEConfig is the connectivity-assistance server snapshot handed to each new
// call. The service treats the lists as opaque configuration.
type ICEConfig struct {
	StunServers []string
	TurnServers []string
}

// Config holds call service configuration
type Config struct {
	ICE ICEConfig

	// PendingTTL bounds how long a call may stay pending with no joins.
	// Zero disables expiry.
	PendingTTL time.Duration
}

// Service owns the authoritative state transitions of calls and their
// participants
type Service struct {
	calls     CallStore
	directory DirectoryStore
	notifier  Notifier
	archive   RecordingArchiver
	registry  RoomRegistry
	metrics   *metrics.Metrics

	ice        ICEConfig
	pendingTTL time.Duration

	locks *callLocks
}

// NewService creates a new call service
func NewService(calls CallStore, directory DirectoryStore, notifier Notifier, cfg *Config) *Service {
	s := &Service{
		calls:     calls,
		directory: directory,
		notifier:  notifier,
		locks:     newCallLocks(),
	}
	if cfg != nil {
		s.ice = cfg.ICE
		s.pendingTTL = cfg.PendingTTL
	}
	return s
}

// SetRoomRegistry wires the signaling registry in after construction; the
// registry needs the service and the service needs the registry, so one side
// is attached late at startup.
func (s *Service) SetRoomRegistry(registry RoomRegistry) {
	s.registry = registry
}

// SetRecordingArchiver wires in the optional recording manifest archive
func (s *Service) SetRecordingArchiver(archive RecordingArchiver) {
	s.archive = archive
}

// SetMetrics wires in the optional metrics collector
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// StartCallInput contains call creation data
type StartCallInput struct {
	WorkspaceID     uuid.UUID
	ChannelID       *uuid.UUID
	CallType        domain.CallType
	Title           string
	Participants    []uuid.UUID
	MaxParticipants int
	ScheduledFor    *time.Time
}

// MediaConstraints carries the joiner's requested initial media state; nil
// fields fall back to call-type defaults
type MediaConstraints struct {
	AudioEnabled *bool
	VideoEnabled *bool
}

// JoinCallResult pairs the joined call with the caller's participant row
type JoinCallResult struct {
	Call        *domain.Call
	Participant *domain.CallParticipant
}

// StartCall creates a new call with the initiator as its first participant
func (s *Service) StartCall(ctx context.Context, initiatorID uuid.UUID, input *StartCallInput) (*domain.Call, error) {
	if !domain.ValidCallType(input.CallType) {
		return nil, apperrors.ValidationError(fmt.Sprintf("invalid call type: %s", input.CallType))
	}

	maxParticipants := input.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = constants.DefaultMaxCallParticipants
	}
	if maxParticipants < constants.MinCallParticipants || maxParticipants > constants.MaxCallParticipants {
		return nil, apperrors.ValidationError(fmt.Sprintf(
			"max participants must be between %d and %d",
			constants.MinCallParticipants, constants.MaxCallParticipants))
	}

	initiator, err := s.directory.GetUser(ctx, initiatorID)
	if err != nil {
		return nil, err
	}

	active, err := s.calls.UserActiveCall(ctx, initiatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active call: %w", err)
	}
	if active != nil {
		return nil, apperrors.AlreadyInCallError()
	}

	if input.ChannelID != nil {
		if _, err := s.directory.GetChannel(ctx, *input.ChannelID); err != nil {
			return nil, err
		}
		hasAccess, err := s.directory.UserHasChannelAccess(ctx, initiatorID, *input.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("failed to check channel access: %w", err)
		}
		if !hasAccess {
			return nil, apperrors.ForbiddenError("You do not have access to this channel")
		}
	}

	now := time.Now()
	call := &domain.Call{
		CallID:          uuid.New(),
		WorkspaceID:     input.WorkspaceID,
		ChannelID:       input.ChannelID,
		InitiatorID:     initiatorID,
		CallType:        input.CallType,
		Title:           input.Title,
		RoomID:          domain.NewRoomID(),
		Status:          domain.CallStatusPending,
		MaxParticipants: maxParticipants,
		StunServers:     append([]string(nil), s.ice.StunServers...),
		TurnServers:     append([]string(nil), s.ice.TurnServers...),
		ScheduledFor:    input.ScheduledFor,
		StartedAt:       now,
	}

	if err := s.calls.CreateCall(ctx, call); err != nil {
		return nil, fmt.Errorf("failed to create call record: %w", err)
	}

	if err := s.calls.AddParticipant(ctx, &domain.CallParticipant{
		ParticipantID: uuid.New(),
		CallID:        call.CallID,
		UserID:        initiatorID,
		Status:        domain.ParticipantConnecting,
		AudioEnabled:  true,
		VideoEnabled:  input.CallType == domain.CallTypeVideo,
		JoinedAt:      now,
	}); err != nil {
		return nil, fmt.Errorf("failed to add initiator: %w", err)
	}

	invited := make(map[uuid.UUID]bool)
	for _, userID := range input.Participants {
		if userID == initiatorID || invited[userID] {
			continue
		}
		invited[userID] = true

		if err := s.calls.AddParticipant(ctx, &domain.CallParticipant{
			ParticipantID: uuid.New(),
			CallID:        call.CallID,
			UserID:        userID,
			Status:        domain.ParticipantInvited,
			JoinedAt:      now,
		}); err != nil {
			return nil, fmt.Errorf("failed to add invited participant: %w", err)
		}

		s.notify(ctx, userID, domain.NotificationTypeCallInvite,
			"Incoming call",
			fmt.Sprintf("%s invited you to a %s call", initiator.DisplayName, call.CallType),
			call)
	}

	// A channel huddle announces itself to the whole channel
	if call.CallType == domain.CallTypeHuddle && call.ChannelID != nil {
		members, err := s.directory.GetChannelMembers(ctx, *call.ChannelID)
		if err != nil {
			logger.Warn("failed to load channel members for huddle notice",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		} else {
			for _, m := range members {
				if m.UserID == initiatorID || invited[m.UserID] {
					continue
				}
				s.notify(ctx, m.UserID, domain.NotificationTypeHuddleStarted,
					"Huddle started",
					fmt.Sprintf("%s started a huddle", initiator.DisplayName),
					call)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.CallStarted(string(call.CallType))
	}

	logger.Info("call started",
		zap.String("call_id", call.CallID.String()),
		zap.String("call_type", string(call.CallType)),
		zap.String("initiator_id", initiatorID.String()))

	return call, nil
}

// JoinCall adds a user to a call with a connecting seat; the signaling layer
// later promotes the seat to connected when the socket joins its room
func (s *Service) JoinCall(ctx context.Context, callID, userID uuid.UUID, mc *MediaConstraints) (*JoinCallResult, error) {
	call, err := s.calls.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if _, err := s.directory.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	s.locks.lock(call.CallID)
	defer s.locks.unlock(call.CallID)

	call, participant, err := s.joinLocked(ctx, call, userID, mc, domain.ParticipantConnecting)
	if err != nil {
		return nil, err
	}

	return &JoinCallResult{Call: call, Participant: participant}, nil
}

// joinLocked performs the join business checks and the upsert. Callers must
// hold the per-call lock.
func (s *Service) joinLocked(ctx context.Context, call *domain.Call, userID uuid.UUID, mc *MediaConstraints, target domain.ParticipantStatus) (*domain.Call, *domain.CallParticipant, error) {
	// The lock was acquired after the initial read; re-read so concurrent
	// joins observe each other's writes
	call, err := s.calls.GetCall(ctx, call.CallID)
	if err != nil {
		return nil, nil, err
	}

	if call.Status == domain.CallStatusEnded {
		return nil, nil, apperrors.CallEndedError()
	}

	if s.pendingTTL > 0 && call.Status == domain.CallStatusPending && time.Since(call.StartedAt) > s.pendingTTL {
		if _, err := s.endLocked(ctx, call, call.InitiatorID, "pending_timeout"); err != nil {
			logger.Warn("failed to expire pending call",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		}
		return nil, nil, apperrors.CallEndedError()
	}

	active, err := s.calls.UserActiveCall(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check active call: %w", err)
	}
	if active != nil && active.CallID != call.CallID {
		return nil, nil, apperrors.AlreadyInCallError()
	}

	if call.ChannelID != nil {
		hasAccess, err := s.directory.UserHasChannelAccess(ctx, userID, *call.ChannelID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check channel access: %w", err)
		}
		if !hasAccess {
			return nil, nil, apperrors.ForbiddenError("You do not have access to this channel")
		}
	}

	participants, err := s.calls.GetParticipants(ctx, call.CallID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get participants: %w", err)
	}

	var existing *domain.CallParticipant
	connected := 0
	for _, p := range participants {
		if p.Status == domain.ParticipantConnected {
			connected++
		}
		if p.UserID == userID {
			existing = p
		}
	}
	if (existing == nil || existing.Status != domain.ParticipantConnected) && connected >= call.MaxParticipants {
		return nil, nil, apperrors.CallFullError()
	}

	audio := true
	video := call.CallType == domain.CallTypeVideo
	if mc != nil {
		if mc.AudioEnabled != nil {
			audio = *mc.AudioEnabled
		}
		if mc.VideoEnabled != nil {
			video = *mc.VideoEnabled
		}
	}

	var participant *domain.CallParticipant
	if existing != nil {
		// A fresh seat never holds the screen-share slot, even when the row
		// carried a stale flag from an earlier session
		sharing := false
		patch := &domain.ParticipantUpdate{
			Status:        &target,
			AudioEnabled:  &audio,
			VideoEnabled:  &video,
			ScreenSharing: &sharing,
			ClearLeftAt:   true,
		}
		if err := s.calls.UpdateParticipant(ctx, existing.ParticipantID, patch); err != nil {
			return nil, nil, fmt.Errorf("failed to update participant: %w", err)
		}
		existing.Status = target
		existing.AudioEnabled = audio
		existing.VideoEnabled = video
		existing.ScreenSharing = false
		existing.LeftAt = nil
		participant = existing
	} else {
		participant = &domain.CallParticipant{
			ParticipantID: uuid.New(),
			CallID:        call.CallID,
			UserID:        userID,
			Status:        target,
			AudioEnabled:  audio,
			VideoEnabled:  video,
			JoinedAt:      time.Now(),
		}
		if err := s.calls.AddParticipant(ctx, participant); err != nil {
			return nil, nil, fmt.Errorf("failed to add participant: %w", err)
		}
	}

	if call.Status == domain.CallStatusPending {
		status := domain.CallStatusActive
		if err := s.calls.UpdateCall(ctx, call.CallID, &domain.CallUpdate{Status: &status}); err != nil {
			return nil, nil, fmt.Errorf("failed to activate call: %w", err)
		}
		call.Status = domain.CallStatusActive
	}

	return call, participant, nil
}

// LeaveCall removes a user from a call, ending the call when nobody remains
// and reassigning the host when the host departs
func (s *Service) LeaveCall(ctx context.Context, callID, userID uuid.UUID) error {
	s.locks.lock(callID)
	defer s.locks.unlock(callID)

	call, err := s.calls.GetCall(ctx, callID)
	if err != nil {
		return err
	}

	participant, err := s.calls.GetParticipant(ctx, callID, userID)
	if err != nil {
		return err
	}
	if !participant.Status.Present() {
		return nil
	}

	if err := s.calls.RemoveParticipant(ctx, callID, userID); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	participants, err := s.calls.GetParticipants(ctx, callID)
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}

	var remaining []*domain.CallParticipant
	for _, p := range participants {
		if p.UserID != userID && p.Status.Present() {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		_, err := s.endLocked(ctx, call, userID, "last_participant_left")
		return err
	}

	if userID == call.InitiatorID {
		newHost := pickNewHost(remaining)
		if err := s.calls.UpdateCall(ctx, callID, &domain.CallUpdate{InitiatorID: &newHost}); err != nil {
			return fmt.Errorf("failed to reassign host: %w", err)
		}
		logger.Info("call host reassigned",
			zap.String("call_id", callID.String()),
			zap.String("new_host_id", newHost.String()))
	}

	return nil
}

// pickNewHost chooses the earliest-joined connected participant, falling back
// to the earliest-joined connecting one. remaining must be non-empty and
// sorted by join time.
func pickNewHost(remaining []*domain.CallParticipant) uuid.UUID {
	for _, p := range remaining {
		if p.Status == domain.ParticipantConnected {
			return p.UserID
		}
	}
	return remaining[0].UserID
}

// EndCall ends a call on behalf of the host or an administrator
func (s *Service) EndCall(ctx context.Context, callID, endedBy uuid.UUID) (*domain.Call, error) {
	s.locks.lock(callID)
	defer s.locks.unlock(callID)

	call, err := s.calls.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	// Permission before idempotency: an unauthorized caller gets Forbidden
	// whether or not the call already ended
	if err := s.requireHostOrAdmin(ctx, call, endedBy); err != nil {
		return nil, err
	}
	if call.Status == domain.CallStatusEnded {
		return call, nil
	}

	return s.endLocked(ctx, call, endedBy, "ended_by_host")
}

// endLocked marks the call ended, tears down the room, deactivates remaining
// seats, and dispatches end notices. Callers must hold the per-call lock.
// Room teardown runs on its own goroutine: the registry takes room locks a
// signaling join may hold while waiting for this call's lock.
func (s *Service) endLocked(ctx context.Context, call *domain.Call, endedBy uuid.UUID, reason string) (*domain.Call, error) {
	if call.IsRecording {
		if err := s.stopRecordingLocked(ctx, call); err != nil {
			logger.Warn("failed to stop recording during call end",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		}
	}

	participants, err := s.calls.GetParticipants(ctx, call.CallID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	ended, err := s.calls.EndCall(ctx, call.CallID)
	if err != nil {
		return nil, fmt.Errorf("failed to end call: %w", err)
	}

	if s.registry != nil {
		go s.registry.CloseRoom(call.RoomID, reason)
	}

	for _, p := range participants {
		if !p.Status.Present() {
			continue
		}
		if err := s.calls.RemoveParticipant(ctx, call.CallID, p.UserID); err != nil {
			logger.Warn("failed to deactivate participant on call end",
				zap.String("call_id", call.CallID.String()),
				zap.String("user_id", p.UserID.String()),
				zap.Error(err))
		}
		if p.UserID != endedBy {
			s.notify(ctx, p.UserID, domain.NotificationTypeCallEnded,
				"Call ended",
				fmt.Sprintf("Your %s call has ended", call.CallType),
				call)
		}
	}

	if s.metrics != nil {
		s.metrics.CallEnded(time.Duration(ended.TotalDuration) * time.Second)
	}

	logger.Info("call ended",
		zap.String("call_id", call.CallID.String()),
		zap.String("reason", reason),
		zap.Int("duration_seconds", ended.TotalDuration))

	return ended, nil
}

// requireHostOrAdmin returns Forbidden unless userID is the call's current
// host or an administrator
func (s *Service) requireHostOrAdmin(ctx context.Context, call *domain.Call, userID uuid.UUID) error {
	if userID == call.InitiatorID {
		return nil
	}
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsAdmin() {
		return apperrors.ForbiddenError("Only the call host or an administrator may do this")
	}
	return nil
}

// notify dispatches a call-related notification, best-effort. Failures are
// logged by the notifier and never abort the primary operation.
func (s *Service) notify(ctx context.Context, userID uuid.UUID, notifType, title, body string, call *domain.Call) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Notify(ctx, &domain.NotificationCreate{
		UserID: userID,
		Type:   notifType,
		Title:  title,
		Body:   body,
		Data: map[string]interface{}{
			"call_id":   call.CallID.String(),
			"room_id":   call.RoomID,
			"call_type": string(call.CallType),
		},
	})
}
