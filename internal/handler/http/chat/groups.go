package chat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/middleware"
	"rendezvous-backend/internal/service/conversation"
	"rendezvous-backend/pkg/response"
)

// CreateGroupRequest represents a new group
type CreateGroupRequest struct {
	Universe string `json:"universe" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// CreateChannelRequest represents a new channel in a group
type CreateChannelRequest struct {
	Universe string `json:"universe" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// SendGroupMessageRequest represents a channel message
type SendGroupMessageRequest struct {
	Universe    string              `json:"universe" binding:"required"`
	Body        string              `json:"body"`
	ReplyTo     *uuid.UUID          `json:"reply_to,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// SendPollRequest represents a poll posted to a channel
type SendPollRequest struct {
	Universe  string     `json:"universe" binding:"required"`
	Question  string     `json:"question" binding:"required"`
	Options   []string   `json:"options" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// AddMemberRequest grants membership
type AddMemberRequest struct {
	Universe string      `json:"universe" binding:"required"`
	UserID   uuid.UUID   `json:"user_id" binding:"required"`
	Role     domain.Role `json:"role"`
}

// BanMemberRequest bans a user from a group
type BanMemberRequest struct {
	Universe string    `json:"universe" binding:"required"`
	UserID   uuid.UUID `json:"user_id" binding:"required"`
	Reason   string    `json:"reason"`
}

// CreateGroup creates a group with its default channel
// POST /v1/groups
func (h *Handler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	out, err := h.conversations.CreateGroup(c.Request.Context(), middleware.GetUserID(c), req.Universe, req.Name)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, out)
}

// ListChannels lists a group's channels
// GET /v1/groups/:group_id/channels?universe=
func (h *Handler) ListChannels(c *gin.Context) {
	groupID, err := pathID(c, "group_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	channels, err := h.conversations.ListChannels(c.Request.Context(), middleware.GetUserID(c), c.Query("universe"), groupID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"channels": channels})
}

// CreateChannel adds a channel to a group
// POST /v1/groups/:group_id/channels
func (h *Handler) CreateChannel(c *gin.Context) {
	groupID, err := pathID(c, "group_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	channel, err := h.conversations.CreateChannel(c.Request.Context(), middleware.GetUserID(c), req.Universe, groupID, req.Name)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, channel)
}

// DeleteChannel removes a channel
// DELETE /v1/groups/:group_id/channels/:channel_id?universe=
func (h *Handler) DeleteChannel(c *gin.Context) {
	groupID, err := pathID(c, "group_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	channelID, err := pathID(c, "channel_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.conversations.DeleteChannel(c.Request.Context(), middleware.GetUserID(c), c.Query("universe"), groupID, channelID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// SendGroupMessage posts a message to a channel
// POST /v1/groups/:group_id/channels/:channel_id/messages
func (h *Handler) SendGroupMessage(c *gin.Context) {
	groupID, channelID, ok := channelPath(c)
	if !ok {
		return
	}
	var req SendGroupMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.conversations.SendGroupMessage(c.Request.Context(), &conversation.SendGroupMessageInput{
		SenderID:    middleware.GetUserID(c),
		Universe:    req.Universe,
		GroupID:     groupID,
		ChannelID:   channelID,
		Body:        req.Body,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// SendPoll posts a poll to a channel
// POST /v1/groups/:group_id/channels/:channel_id/polls
func (h *Handler) SendPoll(c *gin.Context) {
	groupID, channelID, ok := channelPath(c)
	if !ok {
		return
	}
	var req SendPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.conversations.SendPoll(c.Request.Context(), &conversation.SendPollInput{
		SenderID:  middleware.GetUserID(c),
		Universe:  req.Universe,
		GroupID:   groupID,
		ChannelID: channelID,
		Question:  req.Question,
		Options:   req.Options,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// AddMember adds a user to a group
// POST /v1/groups/:group_id/members
func (h *Handler) AddMember(c *gin.Context) {
	groupID, err := pathID(c, "group_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = domain.RoleMember
	}

	member, err := h.conversations.AddMember(c.Request.Context(), middleware.GetUserID(c), req.Universe, groupID, req.UserID, req.Role)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, member)
}

// BanMember bans a user from a group
// POST /v1/groups/:group_id/bans
func (h *Handler) BanMember(c *gin.Context) {
	groupID, err := pathID(c, "group_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	var req BanMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if err := h.conversations.BanMember(c.Request.Context(), middleware.GetUserID(c), req.Universe, groupID, req.UserID, req.Reason); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"banned": true})
}

// ModerationLog returns the group's recent moderation actions
// GET /v1/groups/:group_id/audit?universe=&limit=
func (h *Handler) ModerationLog(c *gin.Context) {
	groupID, err := pathID(c, "group_id")
	if err != nil {
		response.FromError(c, err)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		response.ValidationError(c, "limit must be a number")
		return
	}

	entries, err := h.conversations.ModerationLog(c.Request.Context(), middleware.GetUserID(c), c.Query("universe"), groupID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}

func channelPath(c *gin.Context) (groupID, channelID uuid.UUID, ok bool) {
	var err error
	if groupID, err = pathID(c, "group_id"); err != nil {
		response.FromError(c, err)
		return uuid.Nil, uuid.Nil, false
	}
	if channelID, err = pathID(c, "channel_id"); err != nil {
		response.FromError(c, err)
		return uuid.Nil, uuid.Nil, false
	}
	return groupID, channelID, true
}
