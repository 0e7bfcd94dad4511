package call

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"talentbridge-backend/internal/domain"
	"talentbridge-backend/internal/service/call"
	"talentbridge-backend/pkg/response"
)

// Handler handles call lifecycle HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// currentUser extracts the authenticated user ID set by the auth middleware
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// callParam parses the :id path parameter
func callParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}

// StartCallRequest represents a call creation request
type StartCallRequest struct {
	WorkspaceID     string     `json:"workspace_id" binding:"required,uuid"`
	ChannelID       *string    `json:"channel_id,omitempty" binding:"omitempty,uuid"`
	CallType        string     `json:"call_type" binding:"required,oneof=voice video huddle screen_share"`
	Title           string     `json:"title"`
	Participants    []string   `json:"participants"`
	MaxParticipants int        `json:"max_participants"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
}

// StartCall creates a new call
// POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	workspaceID, err := uuid.Parse(req.WorkspaceID)
	if err != nil {
		response.ValidationError(c, "Invalid workspace ID")
		return
	}

	var channelID *uuid.UUID
	if req.ChannelID != nil {
		id, err := uuid.Parse(*req.ChannelID)
		if err != nil {
			response.ValidationError(c, "Invalid channel ID")
			return
		}
		channelID = &id
	}

	participants := make([]uuid.UUID, len(req.Participants))
	for i, idStr := range req.Participants {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid participant ID: "+idStr)
			return
		}
		participants[i] = id
	}

	created, err := h.callService.StartCall(c.Request.Context(), userID, &call.StartCallInput{
		WorkspaceID:     workspaceID,
		ChannelID:       channelID,
		CallType:        domain.CallType(req.CallType),
		Title:           req.Title,
		Participants:    participants,
		MaxParticipants: req.MaxParticipants,
		ScheduledFor:    req.ScheduledFor,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// JoinCallRequest carries the joiner's initial media preferences
type JoinCallRequest struct {
	AudioEnabled *bool `json:"audio_enabled,omitempty"`
	VideoEnabled *bool `json:"video_enabled,omitempty"`
}

// JoinCall reserves a seat in a call
// POST /v1/calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req JoinCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.callService.JoinCall(c.Request.Context(), callID, userID, &call.MediaConstraints{
		AudioEnabled: req.AudioEnabled,
		VideoEnabled: req.VideoEnabled,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"call":        result.Call,
		"participant": result.Participant,
	})
}

// LeaveCall releases the caller's seat
// POST /v1/calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.callService.LeaveCall(c.Request.Context(), callID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Left call",
		"call_id": callID,
	})
}

// EndCall terminates a call for everyone
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ended, err := h.callService.EndCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, ended)
}

// UpdateSettingsRequest represents host-editable call settings
type UpdateSettingsRequest struct {
	Title           *string  `json:"title,omitempty"`
	MaxParticipants *int     `json:"max_participants,omitempty"`
	StunServers     []string `json:"stun_servers,omitempty"`
	TurnServers     []string `json:"turn_servers,omitempty"`
}

// UpdateSettings changes settings on a live call
// PATCH /v1/calls/:id
func (h *Handler) UpdateSettings(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	updated, err := h.callService.UpdateCallSettings(c.Request.Context(), callID, userID, &call.CallSettingsInput{
		Title:           req.Title,
		MaxParticipants: req.MaxParticipants,
		StunServers:     req.StunServers,
		TurnServers:     req.TurnServers,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// MediaRequest toggles the caller's audio/video state
type MediaRequest struct {
	AudioEnabled *bool `json:"audio_enabled,omitempty"`
	VideoEnabled *bool `json:"video_enabled,omitempty"`
}

// UpdateMedia toggles the caller's media flags
// PATCH /v1/calls/:id/media
func (h *Handler) UpdateMedia(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	participant, err := h.callService.ToggleParticipantMedia(c.Request.Context(), callID, userID, req.AudioEnabled, req.VideoEnabled)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// ScreenShareRequest starts or stops the caller's screen share
type ScreenShareRequest struct {
	ScreenSharing bool `json:"screen_sharing"`
}

// ScreenShare starts or stops a screen share
// POST /v1/calls/:id/screen-share
func (h *Handler) ScreenShare(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ScreenShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	var participant *domain.CallParticipant
	var err error
	if req.ScreenSharing {
		participant, err = h.callService.StartScreenShare(c.Request.Context(), callID, userID)
	} else {
		participant, err = h.callService.StopScreenShare(c.Request.Context(), callID, userID)
	}
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// RecordingRequest toggles recording on a call
type RecordingRequest struct {
	Recording bool `json:"recording"`
}

// SetRecording starts or stops recording; host only
// POST /v1/calls/:id/recording
func (h *Handler) SetRecording(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req RecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	updated, err := h.callService.SetRecording(c.Request.Context(), callID, userID, req.Recording)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// ConsentRequest carries a recording consent answer
type ConsentRequest struct {
	Consent *bool `json:"consent" binding:"required"`
}

// RecordConsent stores the caller's recording consent answer
// POST /v1/calls/:id/consent
func (h *Handler) RecordConsent(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	participant, err := h.callService.RecordConsent(c.Request.Context(), callID, userID, *req.Consent)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// QualityRequest carries a connection quality sample
type QualityRequest struct {
	Bitrate        int     `json:"bitrate"`
	PacketLoss     float64 `json:"packet_loss"`
	Latency        int     `json:"latency"`
	NetworkQuality string  `json:"network_quality"`
}

// ReportQuality stores a connection quality sample for the caller
// POST /v1/calls/:id/quality
func (h *Handler) ReportQuality(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req QualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	err := h.callService.UpdateQualityMetrics(c.Request.Context(), callID, userID, domain.QualityMetrics{
		NetworkQuality: req.NetworkQuality,
		AvgBitrate:     req.Bitrate,
		PacketLoss:     req.PacketLoss,
		AvgLatency:     req.Latency,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Quality sample recorded"})
}

// GetCall returns a call with its participant roster
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, ok := callParam(c)
	if !ok {
		return
	}
	if _, ok := currentUser(c); !ok {
		return
	}

	result, err := h.callService.GetCallWithParticipants(c.Request.Context(), callID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetActiveCalls lists the active calls in a workspace
// GET /v1/workspaces/:workspace_id/calls
func (h *Handler) GetActiveCalls(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	workspaceID, err := uuid.Parse(c.Param("workspace_id"))
	if err != nil {
		response.ValidationError(c, "Invalid workspace ID")
		return
	}

	calls, err := h.callService.GetActiveCalls(c.Request.Context(), workspaceID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, calls)
}

// GetCallHistory lists the caller's past calls
// GET /v1/calls/history
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	calls, err := h.callService.GetCallHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, calls)
}
