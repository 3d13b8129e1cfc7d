package chat

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/middleware"
	"rendezvous-backend/internal/service/call"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/response"
)

// UpdateStatusRequest sets the caller's presence
type UpdateStatusRequest struct {
	Status        domain.PresenceStatus `json:"status" binding:"required"`
	CustomMessage *string               `json:"custom_message,omitempty"`
}

// StartCallRequest rings another user
type StartCallRequest struct {
	CalleeID uuid.UUID       `json:"callee_id" binding:"required"`
	Universe string          `json:"universe"`
	CallType string          `json:"call_type" binding:"required"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// UpdateCallRequest moves a call to a new status
type UpdateCallRequest struct {
	Status  domain.CallStatus `json:"status" binding:"required"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// UpdateStatus changes the caller's presence status
// PUT /v1/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	data, err := h.presence.UpdateStatus(c.Request.Context(), middleware.GetUserID(c), req.Status, req.CustomMessage)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// StartCall rings the callee
// POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	universe, err := domain.ParseUniverse(req.Universe)
	if err != nil {
		response.FromError(c, appErrors.InvalidUniverseError(req.Universe))
		return
	}

	out, err := h.calls.Ring(c.Request.Context(), &call.RingInput{
		CallerID: middleware.GetUserID(c),
		CalleeID: req.CalleeID,
		Universe: universe,
		CallType: req.CallType,
		Payload:  req.Payload,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, out)
}

// UpdateCall answers, rejects or ends a call
// PUT /v1/calls/:call_id
func (h *Handler) UpdateCall(c *gin.Context) {
	callID, err := pathID(c, "call_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	var req UpdateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.calls.UpdateStatus(c.Request.Context(), &call.UpdateStatusInput{
		CallID:  callID,
		ActorID: middleware.GetUserID(c),
		Status:  req.Status,
		Payload: req.Payload,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}
