package cockroach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentbridge-backend/internal/domain"
	apperrors "talentbridge-backend/pkg/errors"
)

// CallRepository handles call and participant data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callColumns = `
	call_id, workspace_id, channel_id, initiator_id, call_type, title, room_id,
	status, max_participants, stun_servers, turn_servers, is_recording,
	recording_started_at, recording_stopped_at, quality_metrics, scheduled_for,
	started_at, ended_at, total_duration
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*domain.Call, error) {
	call := &domain.Call{}
	var stun, turn, metrics []byte

	err := row.Scan(
		&call.CallID,
		&call.WorkspaceID,
		&call.ChannelID,
		&call.InitiatorID,
		&call.CallType,
		&call.Title,
		&call.RoomID,
		&call.Status,
		&call.MaxParticipants,
		&stun,
		&turn,
		&call.IsRecording,
		&call.RecordingStartedAt,
		&call.RecordingStoppedAt,
		&metrics,
		&call.ScheduledFor,
		&call.StartedAt,
		&call.EndedAt,
		&call.TotalDuration,
	)
	if err != nil {
		return nil, err
	}

	if len(stun) > 0 {
		if err := json.Unmarshal(stun, &call.StunServers); err != nil {
			return nil, fmt.Errorf("failed to decode stun servers: %w", err)
		}
	}
	if len(turn) > 0 {
		if err := json.Unmarshal(turn, &call.TurnServers); err != nil {
			return nil, fmt.Errorf("failed to decode turn servers: %w", err)
		}
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &call.QualityMetrics); err != nil {
			return nil, fmt.Errorf("failed to decode quality metrics: %w", err)
		}
	}

	return call, nil
}

// CreateCall inserts a new call record
func (r *CallRepository) CreateCall(ctx context.Context, call *domain.Call) error {
	stun, err := json.Marshal(call.StunServers)
	if err != nil {
		return fmt.Errorf("failed to encode stun servers: %w", err)
	}
	turn, err := json.Marshal(call.TurnServers)
	if err != nil {
		return fmt.Errorf("failed to encode turn servers: %w", err)
	}

	query := `
		INSERT INTO calls (
			call_id, workspace_id, channel_id, initiator_id, call_type, title,
			room_id, status, max_participants, stun_servers, turn_servers,
			scheduled_for, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.pool.Exec(ctx, query,
		call.CallID,
		call.WorkspaceID,
		call.ChannelID,
		call.InitiatorID,
		call.CallType,
		call.Title,
		call.RoomID,
		call.Status,
		call.MaxParticipants,
		stun,
		turn,
		call.ScheduledFor,
		call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetCall retrieves a call by ID
func (r *CallRepository) GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// GetCallByRoomID retrieves the single non-ended call bound to a room token
func (r *CallRepository) GetCallByRoomID(ctx context.Context, roomID string) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE room_id = $1 AND status != 'ended'`

	call, err := scanCall(r.pool.QueryRow(ctx, query, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call by room: %w", err)
	}

	return call, nil
}

// GetActiveCalls retrieves all non-ended calls in a workspace
func (r *CallRepository) GetActiveCalls(ctx context.Context, workspaceID uuid.UUID) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE workspace_id = $1 AND status != 'ended'
		ORDER BY started_at DESC
	`

	rows, err := r.pool.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// GetUserCalls retrieves call history for a user, most recent first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT DISTINCT ` + callColumns + `
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// UserActiveCall returns the non-ended call the user currently occupies a
// connecting or connected seat in, or nil if there is none
func (r *CallRepository) UserActiveCall(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1
		  AND cp.status IN ('connecting', 'connected')
		  AND c.status != 'ended'
		LIMIT 1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user active call: %w", err)
	}

	return call, nil
}

// UpdateCall applies a partial update to a call record
func (r *CallRepository) UpdateCall(ctx context.Context, callID uuid.UUID, patch *domain.CallUpdate) error {
	set := []string{}
	args := []any{callID}

	addField := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		addField("title", *patch.Title)
	}
	if patch.Status != nil {
		addField("status", *patch.Status)
	}
	if patch.InitiatorID != nil {
		addField("initiator_id", *patch.InitiatorID)
	}
	if patch.MaxParticipants != nil {
		addField("max_participants", *patch.MaxParticipants)
	}
	if patch.StunServers != nil {
		encoded, err := json.Marshal(patch.StunServers)
		if err != nil {
			return fmt.Errorf("failed to encode stun servers: %w", err)
		}
		addField("stun_servers", encoded)
	}
	if patch.TurnServers != nil {
		encoded, err := json.Marshal(patch.TurnServers)
		if err != nil {
			return fmt.Errorf("failed to encode turn servers: %w", err)
		}
		addField("turn_servers", encoded)
	}
	if patch.IsRecording != nil {
		addField("is_recording", *patch.IsRecording)
	}
	if patch.RecordingStartedAt != nil {
		addField("recording_started_at", *patch.RecordingStartedAt)
	}
	if patch.RecordingStoppedAt != nil {
		addField("recording_stopped_at", *patch.RecordingStoppedAt)
	}

	if len(set) == 0 {
		return nil
	}

	query := "UPDATE calls SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE call_id = $1"

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}

	return nil
}

// EndCall marks a call ended, stamps the end time, and computes total
// duration. The status guard makes the transition idempotent: a call that is
// already ended is returned unchanged.
func (r *CallRepository) EndCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		UPDATE calls
		SET status = 'ended',
		    ended_at = now(),
		    total_duration = EXTRACT(EPOCH FROM (now() - started_at))::INT
		WHERE call_id = $1 AND status != 'ended'
		RETURNING ` + callColumns

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetCall(ctx, callID)
		}
		return nil, fmt.Errorf("failed to end call: %w", err)
	}

	return call, nil
}

// MergeQualityMetrics merges one participant's latest metrics into the call's
// quality map, last write wins per user
func (r *CallRepository) MergeQualityMetrics(ctx context.Context, callID, userID uuid.UUID, m domain.QualityMetrics) error {
	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode quality metrics: %w", err)
	}

	query := `
		UPDATE calls
		SET quality_metrics = COALESCE(quality_metrics, '{}'::JSONB) || jsonb_build_object($2::STRING, $3::JSONB)
		WHERE call_id = $1
	`

	if _, err := r.pool.Exec(ctx, query, callID, userID.String(), encoded); err != nil {
		return fmt.Errorf("failed to merge quality metrics: %w", err)
	}

	return nil
}

const participantColumns = `
	participant_id, call_id, user_id, status, audio_enabled, video_enabled,
	screen_sharing, recording_consent, consent_given_at, network_quality,
	avg_bitrate, packet_loss, avg_latency, joined_at, left_at
`

func scanParticipant(row rowScanner) (*domain.CallParticipant, error) {
	p := &domain.CallParticipant{}
	err := row.Scan(
		&p.ParticipantID,
		&p.CallID,
		&p.UserID,
		&p.Status,
		&p.AudioEnabled,
		&p.VideoEnabled,
		&p.ScreenSharing,
		&p.RecordingConsent,
		&p.ConsentGivenAt,
		&p.NetworkQuality,
		&p.AvgBitrate,
		&p.PacketLoss,
		&p.AvgLatency,
		&p.JoinedAt,
		&p.LeftAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddParticipant inserts a new participant row
func (r *CallRepository) AddParticipant(ctx context.Context, p *domain.CallParticipant) error {
	query := `
		INSERT INTO call_participants (
			participant_id, call_id, user_id, status, audio_enabled,
			video_enabled, recording_consent, joined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ParticipantID,
		p.CallID,
		p.UserID,
		p.Status,
		p.AudioEnabled,
		p.VideoEnabled,
		p.RecordingConsent,
		p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	return nil
}

// GetParticipants retrieves all participants of a call, earliest joined first
func (r *CallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `SELECT ` + participantColumns + ` FROM call_participants WHERE call_id = $1 ORDER BY joined_at ASC`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// GetParticipant retrieves one user's participant row in a call
func (r *CallRepository) GetParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error) {
	query := `SELECT ` + participantColumns + ` FROM call_participants WHERE call_id = $1 AND user_id = $2`

	p, err := scanParticipant(r.pool.QueryRow(ctx, query, callID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ParticipantNotFoundError()
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	return p, nil
}

// UpdateParticipant applies a partial update to a participant row
func (r *CallRepository) UpdateParticipant(ctx context.Context, participantID uuid.UUID, patch *domain.ParticipantUpdate) error {
	set := []string{}
	args := []any{participantID}

	addField := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		addField("status", *patch.Status)
	}
	if patch.AudioEnabled != nil {
		addField("audio_enabled", *patch.AudioEnabled)
	}
	if patch.VideoEnabled != nil {
		addField("video_enabled", *patch.VideoEnabled)
	}
	if patch.ScreenSharing != nil {
		addField("screen_sharing", *patch.ScreenSharing)
	}
	if patch.RecordingConsent != nil {
		addField("recording_consent", *patch.RecordingConsent)
	}
	if patch.ConsentGivenAt != nil {
		addField("consent_given_at", *patch.ConsentGivenAt)
	}
	if patch.NetworkQuality != nil {
		addField("network_quality", *patch.NetworkQuality)
	}
	if patch.AvgBitrate != nil {
		addField("avg_bitrate", *patch.AvgBitrate)
	}
	if patch.PacketLoss != nil {
		addField("packet_loss", *patch.PacketLoss)
	}
	if patch.AvgLatency != nil {
		addField("avg_latency", *patch.AvgLatency)
	}
	if patch.LeftAt != nil {
		addField("left_at", *patch.LeftAt)
	} else if patch.ClearLeftAt {
		set = append(set, "left_at = NULL")
	}

	if len(set) == 0 {
		return nil
	}

	query := "UPDATE call_participants SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE participant_id = $1"

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	return nil
}

// RemoveParticipant marks a participant disconnected and stamps the leave time.
// Rows are kept so departures stay observable in call history. The screen-share
// slot is released with the seat; a departed row must never hold it.
func (r *CallRepository) RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	query := `
		UPDATE call_participants
		SET status = 'disconnected', left_at = $3, screen_sharing = false
		WHERE call_id = $1 AND user_id = $2
	`

	if _, err := r.pool.Exec(ctx, query, callID, userID, time.Now()); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	return nil
}
