package push

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rendezvous-backend/internal/middleware"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/push"
	"rendezvous-backend/pkg/response"
)

// TokenService manages device tokens
type TokenService interface {
	RegisterToken(ctx context.Context, token *push.Token) error
	UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error
}

// Handler handles push token HTTP requests
type Handler struct {
	tokens TokenService
	now    func() time.Time
}

// NewHandler creates a new push token handler
func NewHandler(tokens TokenService) *Handler {
	return &Handler{tokens: tokens, now: time.Now}
}

// RegisterRoutes mounts the token endpoints
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/push/tokens", h.RegisterToken)
	rg.DELETE("/push/tokens", h.UnregisterToken)
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	Token    string         `json:"token" binding:"required"`
	Type     push.TokenType `json:"type" binding:"required"`
	DeviceID string         `json:"device_id"`
	Platform string         `json:"platform"` // ios, android
}

// UnregisterTokenRequest represents request to unregister a push token
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// RegisterToken registers a device token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if !req.Type.Valid() {
		response.ValidationError(c, "type must be fcm or apns")
		return
	}
	if req.Platform != "" && req.Platform != "ios" && req.Platform != "android" {
		response.ValidationError(c, "platform must be ios or android")
		return
	}

	now := h.now().Unix()
	token := &push.Token{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     req.Token,
		Type:      req.Type,
		DeviceID:  req.DeviceID,
		Platform:  req.Platform,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.tokens.RegisterToken(c.Request.Context(), token); err != nil {
		response.FromError(c, err)
		return
	}

	logger.Info("Push token registered",
		zap.String("user_id", userID.String()),
		zap.String("token_type", string(req.Type)),
		zap.String("platform", req.Platform))

	response.Success(c, http.StatusOK, gin.H{"token_id": token.ID})
}

// UnregisterToken removes one of the caller's device tokens
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if err := h.tokens.UnregisterToken(c.Request.Context(), middleware.GetUserID(c), req.Token); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}
