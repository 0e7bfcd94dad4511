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
)

// CallSettingsInput is a host-editable subset of call settings
type CallSettingsInput struct {
	Title           *string
	MaxParticipants *int
	StunServers     []string
	TurnServers     []string
}

// UpdateCallSettings applies host-editable settings to a live call
func (s *Service) UpdateCallSettings(ctx context.Context, callID, userID uuid.UUID, input *CallSettingsInput) (*domain.Call, error) {
	s.locks.lock(callID)
	defer s.locks.unlock(callID)

	call, err := s.calls.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status == domain.CallStatusEnded {
		return nil, apperrors.CallEndedError()
	}
	if err := s.requireHostOrAdmin(ctx, call, userID); err != nil {
		return nil, err
	}

	if input.MaxParticipants != nil {
		if *input.MaxParticipants < constants.MinCallParticipants || *input.MaxParticipants > constants.MaxCallParticipants {
			return nil, apperrors.ValidationError(fmt.Sprintf(
				"max participants must be between %d and %d",
				constants.MinCallParticipants, constants.MaxCallParticipants))
		}
	}

	patch := &domain.CallUpdate{
		Title:           input.Title,
		MaxParticipants: input.MaxParticipants,
		StunServers:     input.StunServers,
		TurnServers:     input.TurnServers,
	}
	if err := s.calls.UpdateCall(ctx, callID, patch); err != nil {
		return nil, fmt.Errorf("failed to update call settings: %w", err)
	}

	return s.calls.GetCall(ctx, callID)
}

// ToggleParticipantMedia updates a participant's audio/video state; nil
// fields are left untouched
func (s *Service) ToggleParticipantMedia(ctx context.Context, callID, userID uuid.UUID, audio, video *bool) (*domain.CallParticipant, error) {
	participant, err := s.calls.GetParticipant(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	if !participant.Status.Present() {
		return nil, apperrors.ConflictError("Participant is not in the call")
	}

	patch := &domain.ParticipantUpdate{
		AudioEnabled: audio,
		VideoEnabled: video,
	}
	if err := s.calls.UpdateParticipant(ctx, participant.ParticipantID, patch); err != nil {
		return nil, fmt.Errorf("failed to update media state: %w", err)
	}

	if audio != nil {
		participant.AudioEnabled = *audio
	}
	if video != nil {
		participant.VideoEnabled = *video
	}

	return participant, nil
}

// StartScreenShare grants the single screen-share slot of a call to a
// participant; a second concurrent sharer gets Conflict
func (s *Service) StartScreenShare(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error) {
	s.locks.lock(callID)
	defer s.locks.unlock(callID)

	participants, err := s.calls.GetParticipants(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	var self *domain.CallParticipant
	for _, p := range participants {
		if p.UserID == userID {
			self = p
			continue
		}
		if p.ScreenSharing && p.Status.Present() {
			return nil, apperrors.ScreenShareActiveError()
		}
	}
	if self == nil {
		return nil, apperrors.ParticipantNotFoundError()
	}
	if !self.Status.Present() {
		return nil, apperrors.ConflictError("Participant is not in the call")
	}

	sharing := true
	if err := s.calls.UpdateParticipant(ctx, self.ParticipantID, &domain.ParticipantUpdate{ScreenSharing: &sharing}); err != nil {
		return nil, fmt.Errorf("failed to start screen share: %w", err)
	}
	self.ScreenSharing = true

	return self, nil
}

// StopScreenShare releases the participant's screen-share slot
func (s *Service) StopScreenShare(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error) {
	s.locks.lock(callID)
	defer s.locks.unlock(callID)

	participant, err := s.calls.GetParticipant(ctx, callID, userID)
	if err != nil {
		return nil, err
	}

	sharing := false
	if err := s.calls.UpdateParticipant(ctx, participant.ParticipantID, &domain.ParticipantUpdate{ScreenSharing: &sharing}); err != nil {
		return nil, fmt.Errorf("failed to stop screen share: %w", err)
	}
	participant.ScreenSharing = false

	return participant, nil
}

// RecordConsent records a participant's recording consent decision
func (s *Service) RecordConsent(ctx context.Context, callID, userID uuid.UUID, consent bool) (*domain.CallParticipant, error) {
	participant, err := s.calls.GetParticipant(ctx, callID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	patch := &domain.ParticipantUpdate{
		RecordingConsent: &consent,
		ConsentGivenAt:   &now,
	}
	if err := s.calls.UpdateParticipant(ctx, participant.ParticipantID, patch); err != nil {
		return nil, fmt.Errorf("failed to record consent: %w", err)
	}
	participant.RecordingConsent = consent
	participant.ConsentGivenAt = &now

	return participant, nil
}

// SetRecording starts or stops recording on behalf of the host or an
// administrator
func (s *Service) SetRecording(ctx context.Context, callID, requestedBy uuid.UUID, recording bool) (*domain.Call, error) {
	s.locks.lock(callID)
	defer s.locks.unlock(callID)

	call, err := s.calls.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status == domain.CallStatusEnded {
		return nil, apperrors.CallEndedError()
	}
	if err := s.requireHostOrAdmin(ctx, call, requestedBy); err != nil {
		return nil, err
	}

	if recording == call.IsRecording {
		return call, nil
	}

	if recording {
		now := time.Now()
		isRecording := true
		patch := &domain.CallUpdate{
			IsRecording:        &isRecording,
			RecordingStartedAt: &now,
		}
		if err := s.calls.UpdateCall(ctx, callID, patch); err != nil {
			return nil, fmt.Errorf("failed to start recording: %w", err)
		}
		call.IsRecording = true
		call.RecordingStartedAt = &now
		return call, nil
	}

	if err := s.stopRecordingLocked(ctx, call); err != nil {
		return nil, err
	}
	return call, nil
}

// stopRecordingLocked clears the recording flag and writes the manifest
// artifact, best-effort. Callers must hold the per-call lock.
func (s *Service) stopRecordingLocked(ctx context.Context, call *domain.Call) error {
	now := time.Now()
	isRecording := false
	patch := &domain.CallUpdate{
		IsRecording:        &isRecording,
		RecordingStoppedAt: &now,
	}
	if err := s.calls.UpdateCall(ctx, call.CallID, patch); err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}
	call.IsRecording = false
	call.RecordingStoppedAt = &now

	if s.archive != nil {
		participants, err := s.calls.GetParticipants(ctx, call.CallID)
		if err != nil {
			logger.Warn("failed to load participants for recording manifest",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
			return nil
		}

		manifest := &domain.RecordingManifest{
			CallID:      call.CallID,
			RoomID:      call.RoomID,
			InitiatorID: call.InitiatorID,
			StartedAt:   call.RecordingStartedAt,
			StoppedAt:   &now,
		}
		for _, p := range participants {
			manifest.Consents = append(manifest.Consents, domain.RecordingConsent{
				UserID:         p.UserID,
				Consent:        p.RecordingConsent,
				ConsentGivenAt: p.ConsentGivenAt,
			})
		}

		if err := s.archive.ArchiveManifest(ctx, manifest); err != nil {
			logger.Warn("failed to archive recording manifest",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		}
	}

	return nil
}

// UpdateQualityMetrics persists a participant's latest quality report onto
// its row and into the call's per-user metrics map
func (s *Service) UpdateQualityMetrics(ctx context.Context, callID, userID uuid.UUID, m domain.QualityMetrics) error {
	participant, err := s.calls.GetParticipant(ctx, callID, userID)
	if err != nil {
		return err
	}

	if m.ReportedAt.IsZero() {
		m.ReportedAt = time.Now()
	}

	patch := &domain.ParticipantUpdate{
		NetworkQuality: &m.NetworkQuality,
		AvgBitrate:     &m.AvgBitrate,
		PacketLoss:     &m.PacketLoss,
		AvgLatency:     &m.AvgLatency,
	}
	if err := s.calls.UpdateParticipant(ctx, participant.ParticipantID, patch); err != nil {
		return fmt.Errorf("failed to update participant metrics: %w", err)
	}

	if err := s.calls.MergeQualityMetrics(ctx, callID, userID, m); err != nil {
		return fmt.Errorf("failed to merge quality metrics: %w", err)
	}

	return nil
}

// GetActiveCalls lists the non-ended calls in a workspace
func (s *Service) GetActiveCalls(ctx context.Context, workspaceID uuid.UUID) ([]*domain.Call, error) {
	return s.calls.GetActiveCalls(ctx, workspaceID)
}

// GetCallWithParticipants composes a call with its participants and, where
// the directory lookup succeeds, user profile summaries
func (s *Service) GetCallWithParticipants(ctx context.Context, callID uuid.UUID) (*domain.CallWithParticipants, error) {
	call, err := s.calls.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	participants, err := s.calls.GetParticipants(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	result := &domain.CallWithParticipants{Call: *call}
	for _, p := range participants {
		entry := domain.ParticipantWithProfile{CallParticipant: *p}
		if user, err := s.directory.GetUser(ctx, p.UserID); err == nil {
			entry.User = user.Summary()
		}
		result.Participants = append(result.Participants, entry)
	}

	return result, nil
}

// GetCallHistory retrieves a user's call history, most recent first
func (s *Service) GetCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit == 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return s.calls.GetUserCalls(ctx, userID, limit, offset)
}

// ResolveCall looks up a call by room token or call ID. Signaling uses it to
// key rooms before joining.
func (s *Service) ResolveCall(ctx context.Context, roomID string, callID *uuid.UUID) (*domain.Call, error) {
	switch {
	case callID != nil:
		return s.calls.GetCall(ctx, *callID)
	case roomID != "":
		return s.calls.GetCallByRoomID(ctx, roomID)
	default:
		return nil, apperrors.ValidationError("roomId or callId is required")
	}
}

// ConnectPeer is the signaling-side join path: it resolves the target call by
// room token or call ID, runs the same business checks as JoinCall, and
// promotes the seat straight to connected
func (s *Service) ConnectPeer(ctx context.Context, roomID string, callID *uuid.UUID, userID uuid.UUID, mc *MediaConstraints) (*domain.Call, *domain.CallParticipant, error) {
	call, err := s.ResolveCall(ctx, roomID, callID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.directory.GetUser(ctx, userID); err != nil {
		return nil, nil, err
	}

	s.locks.lock(call.CallID)
	defer s.locks.unlock(call.CallID)

	return s.joinLocked(ctx, call, userID, mc, domain.ParticipantConnected)
}

// DisconnectPeer is the signaling-side leave path: a dropped socket is an
// implicit leave
func (s *Service) DisconnectPeer(ctx context.Context, callID, userID uuid.UUID) error {
	return s.LeaveCall(ctx, callID, userID)
}
