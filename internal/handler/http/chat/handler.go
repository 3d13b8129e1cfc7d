package chat

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/middleware"
	"rendezvous-backend/internal/service/call"
	"rendezvous-backend/internal/service/conversation"
	"rendezvous-backend/pkg/audit"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/response"
)

// ConversationService is the conversation store as the handlers use it
type ConversationService interface {
	FindOrCreateDirectConversation(ctx context.Context, a, b uuid.UUID, universe string) (*domain.DirectConversation, bool, error)
	SendDirectMessage(ctx context.Context, input *conversation.SendDirectMessageInput) (*conversation.SendDirectMessageOutput, error)
	HideConversation(ctx context.Context, userID, otherID uuid.UUID, universe string) error
	ListConversations(ctx context.Context, userID uuid.UUID, universe string) ([]*domain.ConversationSummary, error)

	SendGroupMessage(ctx context.Context, input *conversation.SendGroupMessageInput) (*domain.Message, error)
	SendPoll(ctx context.Context, input *conversation.SendPollInput) (*domain.Message, error)
	CreateGroup(ctx context.Context, creatorID uuid.UUID, universe, name string) (*conversation.CreateGroupOutput, error)
	ListChannels(ctx context.Context, actorID uuid.UUID, universe string, groupID uuid.UUID) ([]*domain.Channel, error)
	CreateChannel(ctx context.Context, actorID uuid.UUID, universe string, groupID uuid.UUID, name string) (*domain.Channel, error)
	DeleteChannel(ctx context.Context, actorID uuid.UUID, universe string, groupID, channelID uuid.UUID) error
	AddMember(ctx context.Context, actorID uuid.UUID, universe string, groupID, userID uuid.UUID, role domain.Role) (*domain.GroupMember, error)
	BanMember(ctx context.Context, actorID uuid.UUID, universe string, groupID, userID uuid.UUID, reason string) error
	ModerationLog(ctx context.Context, actorID uuid.UUID, universe string, groupID uuid.UUID, limit int) ([]*audit.Entry, error)

	ListMessages(ctx context.Context, actorID uuid.UUID, in conversation.RefInput, limit int) ([]*domain.Message, error)
	DeleteMessage(ctx context.Context, actorID uuid.UUID, in conversation.RefInput, messageID uuid.UUID) error
	Pin(ctx context.Context, actorID, messageID uuid.UUID) (*domain.Message, error)
	Unpin(ctx context.Context, actorID, messageID uuid.UUID) (*domain.Message, error)
	MarkRead(ctx context.Context, readerID uuid.UUID, in conversation.RefInput) (*domain.MessageReadData, error)
	NotifyTyping(ctx context.Context, userID uuid.UUID, in conversation.RefInput, started bool) error
}

// PresenceService updates user status
type PresenceService interface {
	UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, message *string) (*domain.StatusChangeData, error)
}

// CallService handles call signaling
type CallService interface {
	Ring(ctx context.Context, input *call.RingInput) (*domain.Call, error)
	UpdateStatus(ctx context.Context, input *call.UpdateStatusInput) (*domain.Call, error)
}

// Handler handles chat HTTP requests
type Handler struct {
	conversations ConversationService
	presence      PresenceService
	calls         CallService
}

// NewHandler creates a new chat handler
func NewHandler(conversations ConversationService, presence PresenceService, calls CallService) *Handler {
	return &Handler{
		conversations: conversations,
		presence:      presence,
		calls:         calls,
	}
}

// RegisterRoutes mounts the chat endpoints. limit guards the mutations and may be nil.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, limit gin.HandlerFunc) {
	mutate := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if limit == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{limit, handler}
	}

	rg.GET("/conversations", h.ListConversations)
	rg.POST("/conversations", mutate(h.CreateConversation)...)
	rg.POST("/conversations/hide", mutate(h.HideConversation)...)

	rg.GET("/messages", h.ListMessages)
	rg.POST("/messages", mutate(h.SendDirectMessage)...)
	rg.DELETE("/messages/:message_id", mutate(h.DeleteMessage)...)
	rg.POST("/messages/:message_id/pin", mutate(h.PinMessage)...)
	rg.DELETE("/messages/:message_id/pin", mutate(h.UnpinMessage)...)
	rg.POST("/read", mutate(h.MarkRead)...)
	rg.POST("/typing", h.Typing)

	rg.POST("/groups", mutate(h.CreateGroup)...)
	rg.GET("/groups/:group_id/channels", h.ListChannels)
	rg.POST("/groups/:group_id/channels", mutate(h.CreateChannel)...)
	rg.DELETE("/groups/:group_id/channels/:channel_id", mutate(h.DeleteChannel)...)
	rg.POST("/groups/:group_id/channels/:channel_id/messages", mutate(h.SendGroupMessage)...)
	rg.POST("/groups/:group_id/channels/:channel_id/polls", mutate(h.SendPoll)...)
	rg.POST("/groups/:group_id/members", mutate(h.AddMember)...)
	rg.POST("/groups/:group_id/bans", mutate(h.BanMember)...)
	rg.GET("/groups/:group_id/audit", h.ModerationLog)

	rg.PUT("/status", mutate(h.UpdateStatus)...)
	rg.POST("/calls", mutate(h.StartCall)...)
	rg.PUT("/calls/:call_id", h.UpdateCall)
}

// CreateConversationRequest opens (or finds) a direct conversation
type CreateConversationRequest struct {
	UserID   uuid.UUID `json:"user_id" binding:"required"`
	Universe string    `json:"universe"`
}

// SendDirectMessageRequest represents a direct message
type SendDirectMessageRequest struct {
	ReceiverID  uuid.UUID           `json:"receiver_id" binding:"required"`
	Universe    string              `json:"universe"`
	Body        string              `json:"body"`
	ReplyTo     *uuid.UUID          `json:"reply_to,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// TypingRequest starts or stops a typing indicator
type TypingRequest struct {
	conversation.RefInput
	Started bool `json:"started"`
}

// ListConversations returns the caller's visible direct conversations
// GET /v1/conversations?universe=
func (h *Handler) ListConversations(c *gin.Context) {
	out, err := h.conversations.ListConversations(c.Request.Context(), middleware.GetUserID(c), c.Query("universe"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"conversations": out})
}

// CreateConversation finds or creates the direct conversation with another user
// POST /v1/conversations
func (h *Handler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conv, created, err := h.conversations.FindOrCreateDirectConversation(c.Request.Context(), middleware.GetUserID(c), req.UserID, req.Universe)
	if err != nil {
		response.FromError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, conv)
}

// HideConversation removes a conversation from the caller's list
// POST /v1/conversations/hide
func (h *Handler) HideConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if err := h.conversations.HideConversation(c.Request.Context(), middleware.GetUserID(c), req.UserID, req.Universe); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"hidden": true})
}

// SendDirectMessage handles sending a direct message
// POST /v1/messages
func (h *Handler) SendDirectMessage(c *gin.Context) {
	var req SendDirectMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.conversations.SendDirectMessage(c.Request.Context(), &conversation.SendDirectMessageInput{
		SenderID:    middleware.GetUserID(c),
		ReceiverID:  req.ReceiverID,
		Universe:    req.Universe,
		Body:        req.Body,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, out)
}

// ListMessages returns the newest messages of a conversation or channel
// GET /v1/messages?kind=&universe=&conversation_id=&group_id=&channel_id=&limit=
func (h *Handler) ListMessages(c *gin.Context) {
	in, err := refFromQuery(c)
	if err != nil {
		response.FromError(c, err)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			response.ValidationError(c, "limit must be a number")
			return
		}
	}

	messages, err := h.conversations.ListMessages(c.Request.Context(), middleware.GetUserID(c), in, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"messages": messages})
}

// DeleteMessage deletes a message
// DELETE /v1/messages/:message_id?kind=&universe=&...
func (h *Handler) DeleteMessage(c *gin.Context) {
	messageID, err := pathID(c, "message_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	in, err := refFromQuery(c)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.conversations.DeleteMessage(c.Request.Context(), middleware.GetUserID(c), in, messageID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// PinMessage pins a group message
// POST /v1/messages/:message_id/pin
func (h *Handler) PinMessage(c *gin.Context) {
	h.setPinned(c, true)
}

// UnpinMessage clears a pin
// DELETE /v1/messages/:message_id/pin
func (h *Handler) UnpinMessage(c *gin.Context) {
	h.setPinned(c, false)
}

func (h *Handler) setPinned(c *gin.Context, pinned bool) {
	messageID, err := pathID(c, "message_id")
	if err != nil {
		response.FromError(c, err)
		return
	}

	var msg *domain.Message
	if pinned {
		msg, err = h.conversations.Pin(c.Request.Context(), middleware.GetUserID(c), messageID)
	} else {
		msg, err = h.conversations.Unpin(c.Request.Context(), middleware.GetUserID(c), messageID)
	}
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, msg)
}

// MarkRead records that the caller has read a conversation
// POST /v1/read
func (h *Handler) MarkRead(c *gin.Context) {
	var in conversation.RefInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	data, err := h.conversations.MarkRead(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// Typing relays a typing indicator
// POST /v1/typing
func (h *Handler) Typing(c *gin.Context) {
	var req TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if err := h.conversations.NotifyTyping(c.Request.Context(), middleware.GetUserID(c), req.RefInput, req.Started); err != nil {
		response.FromError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, appErrors.ValidationError("invalid " + name)
	}
	return id, nil
}

// queryID parses an optional id; absent means uuid.Nil
func queryID(c *gin.Context, name string) (uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, appErrors.ValidationError("invalid " + name)
	}
	return id, nil
}

func refFromQuery(c *gin.Context) (conversation.RefInput, error) {
	in := conversation.RefInput{
		Kind:     domain.ConversationKind(c.DefaultQuery("kind", string(domain.KindDirect))),
		Universe: c.Query("universe"),
	}
	var err error
	if in.ConversationID, err = queryID(c, "conversation_id"); err != nil {
		return in, err
	}
	if in.GroupID, err = queryID(c, "group_id"); err != nil {
		return in, err
	}
	if in.ChannelID, err = queryID(c, "channel_id"); err != nil {
		return in, err
	}
	return in, nil
}
