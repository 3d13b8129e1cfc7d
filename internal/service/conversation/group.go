package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/repository/cockroach"
	"rendezvous-backend/pkg/audit"
	"rendezvous-backend/pkg/constants"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
	"rendezvous-backend/pkg/sanitize"
)

// SendGroupMessageInput contains data for a group channel message
type SendGroupMessageInput struct {
	SenderID    uuid.UUID
	Universe    string
	GroupID     uuid.UUID
	ChannelID   uuid.UUID
	Body        string
	ReplyTo     *uuid.UUID
	Attachments []domain.Attachment
}

// SendGroupMessage stores a message in a channel the sender is an active member of
func (s *Service) SendGroupMessage(ctx context.Context, input *SendGroupMessageInput) (*domain.Message, error) {
	body, err := validateBody(input.Body)
	if err != nil {
		return nil, err
	}
	if err := validateAttachments(input.Attachments); err != nil {
		return nil, err
	}
	ref, err := RefInput{Kind: domain.KindGroup, Universe: input.Universe, GroupID: input.GroupID, ChannelID: input.ChannelID}.resolve()
	if err != nil {
		return nil, err
	}

	if _, _, err := s.authorizeGroup(ctx, input.SenderID, ref.Universe, ref.GroupID, ref.ChannelID); err != nil {
		return nil, err
	}

	reply, err := s.resolveReply(ctx, ref, input.ReplyTo)
	if err != nil {
		return nil, err
	}

	msg := s.newGroupMessage(ref, input.SenderID, body, domain.MessageTypeText)
	msg.ReplyTo = reply
	msg.Attachments = input.Attachments
	if err := s.deliverGroupMessage(ctx, ref, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendPollInput contains data for a poll message
type SendPollInput struct {
	SenderID  uuid.UUID
	Universe  string
	GroupID   uuid.UUID
	ChannelID uuid.UUID
	Question  string
	Options   []string
	ExpiresAt *time.Time
}

// SendPoll stores a poll in a channel. The question is the encrypted body; the
// structured payload is stored alongside it.
func (s *Service) SendPoll(ctx context.Context, input *SendPollInput) (*domain.Message, error) {
	question, err := validateBody(input.Question)
	if err != nil {
		return nil, err
	}
	options, err := s.validatePollOptions(input.Options)
	if err != nil {
		return nil, err
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, appErrors.ValidationError("poll expiry must be in the future")
	}
	ref, err := RefInput{Kind: domain.KindGroup, Universe: input.Universe, GroupID: input.GroupID, ChannelID: input.ChannelID}.resolve()
	if err != nil {
		return nil, err
	}

	if _, _, err := s.authorizeGroup(ctx, input.SenderID, ref.Universe, ref.GroupID, ref.ChannelID); err != nil {
		return nil, err
	}

	msg := s.newGroupMessage(ref, input.SenderID, question, domain.MessageTypePoll)
	msg.Poll = &domain.PollPayload{Question: question, Options: options, ExpiresAt: input.ExpiresAt}
	if err := s.deliverGroupMessage(ctx, ref, msg); err != nil {
		return nil, err
	}
	metrics.ChatPollCreatedTotal.WithLabelValues(ref.Universe.String()).Inc()
	return msg, nil
}

func (s *Service) validatePollOptions(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	options := make([]string, 0, len(raw))
	for _, o := range raw {
		o = sanitize.Name(o)
		if o == "" {
			return nil, appErrors.ValidationError("poll options cannot be empty")
		}
		key := strings.ToLower(o)
		if _, dup := seen[key]; dup {
			return nil, appErrors.ValidationError("poll options must be unique")
		}
		seen[key] = struct{}{}
		options = append(options, o)
	}
	if len(options) < 2 || len(options) > constants.MaxPollOptions {
		return nil, appErrors.ValidationError(fmt.Sprintf("a poll needs between 2 and %d options", constants.MaxPollOptions))
	}
	return options, nil
}

func (s *Service) newGroupMessage(ref domain.ConversationRef, sender uuid.UUID, body string, kind domain.MessageType) *domain.Message {
	return &domain.Message{
		MessageID:   uuid.New(),
		Universe:    ref.Universe,
		Kind:        domain.KindGroup,
		ContainerID: ref.ChannelID,
		GroupID:     ref.GroupID,
		SenderID:    sender,
		Body:        body,
		MessageType: kind,
		CreatedAt:   s.now().UTC(),
	}
}

// deliverGroupMessage persists the message, marks the sender caught up and
// notifies the active members
func (s *Service) deliverGroupMessage(ctx context.Context, ref domain.ConversationRef, msg *domain.Message) error {
	if err := s.store(ctx, msg); err != nil {
		return err
	}
	msg.SenderName = s.displayNames(ctx, ref.Universe, []uuid.UUID{msg.SenderID})[msg.SenderID]

	receipt := &domain.ReadReceipt{ChannelID: ref.ChannelID, UserID: msg.SenderID, ReadAt: msg.CreatedAt}
	if err := s.messages.UpsertReadReceipt(ctx, ref.Universe, receipt); err != nil {
		logger.Warn("Failed to update sender read receipt",
			zap.String("channel_id", ref.ChannelID.String()),
			zap.Error(err))
	}

	s.publisher.Publish(&domain.Event{
		Type:  domain.EventNewMessage,
		Data:  msg,
		Actor: msg.SenderID,
		Ref:   &ref,
	})
	return nil
}

func validateName(name, field string) (string, error) {
	name = sanitize.Name(name)
	if name == "" {
		return "", appErrors.MissingFieldError(field)
	}
	if utf8.RuneCountInString(name) > constants.MaxNameLength {
		return "", appErrors.ValidationError(fmt.Sprintf("%s exceeds %d characters", field, constants.MaxNameLength))
	}
	return name, nil
}

// CreateGroupOutput is a new group with its default channel
type CreateGroupOutput struct {
	Group          *domain.Group   `json:"group"`
	DefaultChannel *domain.Channel `json:"default_channel"`
}

// CreateGroup creates the group, the owner membership and the default channel atomically
func (s *Service) CreateGroup(ctx context.Context, creatorID uuid.UUID, universeTag, name string) (*CreateGroupOutput, error) {
	universe, err := parseGroupUniverse(universeTag)
	if err != nil {
		return nil, err
	}
	name, err = validateName(name, "name")
	if err != nil {
		return nil, err
	}

	group := &domain.Group{
		GroupID:   uuid.New(),
		Name:      name,
		CreatedBy: creatorID,
		Universe:  universe,
		CreatedAt: s.now().UTC(),
	}
	channel, err := s.groups.CreateWithDefaultChannel(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return &CreateGroupOutput{Group: group, DefaultChannel: channel}, nil
}

// ListChannels returns the channels of a group the actor is an active member of
func (s *Service) ListChannels(ctx context.Context, actorID uuid.UUID, universeTag string, groupID uuid.UUID) ([]*domain.Channel, error) {
	universe, err := parseGroupUniverse(universeTag)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.authorizeGroup(ctx, actorID, universe, groupID, uuid.Nil); err != nil {
		return nil, err
	}
	channels, err := s.groups.ListChannels(ctx, universe, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// CreateChannel appends a channel to the group. Admins and owners only.
func (s *Service) CreateChannel(ctx context.Context, actorID uuid.UUID, universeTag string, groupID uuid.UUID, name string) (*domain.Channel, error) {
	universe, err := parseGroupUniverse(universeTag)
	if err != nil {
		return nil, err
	}
	name, err = validateName(name, "name")
	if err != nil {
		return nil, err
	}
	if _, err := s.requireModerator(ctx, actorID, universe, groupID); err != nil {
		return nil, err
	}

	channel := &domain.Channel{
		ChannelID: uuid.New(),
		GroupID:   groupID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.groups.CreateChannel(ctx, universe, channel); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	s.record(ctx, universe, groupID, actorID, audit.ActionChannelCreate, channel.ChannelID, name)
	return channel, nil
}

// DeleteChannel removes a non-default channel. Admins and owners only.
func (s *Service) DeleteChannel(ctx context.Context, actorID uuid.UUID, universeTag string, groupID, channelID uuid.UUID) error {
	universe, err := parseGroupUniverse(universeTag)
	if err != nil {
		return err
	}
	if _, err := s.requireModerator(ctx, actorID, universe, groupID); err != nil {
		return err
	}

	channel, err := s.groups.GetChannel(ctx, universe, groupID, channelID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return appErrors.NotFoundError("channel")
		}
		return fmt.Errorf("failed to get channel: %w", err)
	}
	if channel.IsDefault {
		return appErrors.DefaultChannelError()
	}

	if err := s.groups.DeleteChannel(ctx, universe, groupID, channelID); err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return appErrors.NotFoundError("channel")
		}
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	s.record(ctx, universe, groupID, actorID, audit.ActionChannelDelete, channelID, channel.Name)
	return nil
}

// AddMember adds or reactivates a member. Admins and owners only; only an owner
// may grant or revoke the admin role, and the owner's own row never changes.
func (s *Service) AddMember(ctx context.Context, actorID uuid.UUID, universeTag string, groupID, userID uuid.UUID, role domain.Role) (*domain.GroupMember, error) {
	universe, err := parseGroupUniverse(universeTag)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = domain.RoleMember
	}
	if role != domain.RoleMember && role != domain.RoleAdmin {
		return nil, appErrors.ValidationError("role must be member or admin")
	}

	actor, err := s.requireModerator(ctx, actorID, universe, groupID)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleAdmin && actor.Role != domain.RoleOwner {
		return nil, deny("role", appErrors.RoleRequiredError(string(domain.RoleOwner)))
	}

	banned, err := s.groups.IsBanned(ctx, universe, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check ban: %w", err)
	}
	if banned {
		return nil, appErrors.BannedError()
	}

	existing, err := s.groups.GetMember(ctx, universe, groupID, userID)
	if err != nil && !errors.Is(err, cockroach.ErrNotFound) {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if existing != nil {
		if existing.Role == domain.RoleOwner {
			return nil, deny("role", appErrors.ForbiddenError("the group owner's membership cannot be changed"))
		}
		// Demoting an admin is an owner decision like promoting one
		if existing.Role == domain.RoleAdmin && role != domain.RoleAdmin && actor.Role != domain.RoleOwner {
			return nil, deny("role", appErrors.RoleRequiredError(string(domain.RoleOwner)))
		}
	}

	member := &domain.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		IsActive: true,
		JoinedAt: s.now().UTC(),
	}
	if err := s.groups.AddMember(ctx, universe, member); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	s.record(ctx, universe, groupID, actorID, audit.ActionMemberAdd, userID, string(role))
	return member, nil
}

// BanMember deactivates a membership and records the ban. Admins and owners
// only; the owner cannot be banned.
func (s *Service) BanMember(ctx context.Context, actorID uuid.UUID, universeTag string, groupID, userID uuid.UUID, reason string) error {
	universe, err := parseGroupUniverse(universeTag)
	if err != nil {
		return err
	}
	if actorID == userID {
		return appErrors.ValidationError("cannot ban yourself")
	}
	if _, err := s.requireModerator(ctx, actorID, universe, groupID); err != nil {
		return err
	}

	target, err := s.groups.GetMember(ctx, universe, groupID, userID)
	if err != nil && !errors.Is(err, cockroach.ErrNotFound) {
		return fmt.Errorf("failed to get membership: %w", err)
	}
	if target != nil && target.Role == domain.RoleOwner {
		return appErrors.ForbiddenError("the group owner cannot be banned")
	}

	ban := &domain.Ban{
		GroupID:  groupID,
		UserID:   userID,
		BannedBy: actorID,
		Reason:   strings.TrimSpace(reason),
		BannedAt: s.now().UTC(),
	}
	if err := s.groups.Ban(ctx, universe, ban); err != nil {
		return fmt.Errorf("failed to ban member: %w", err)
	}
	s.record(ctx, universe, groupID, actorID, audit.ActionMemberBan, userID, ban.Reason)
	return nil
}

// ModerationLog returns the group's most recent moderation actions, newest
// first. Admins and owners only.
func (s *Service) ModerationLog(ctx context.Context, actorID uuid.UUID, universeTag string, groupID uuid.UUID, limit int) ([]*audit.Entry, error) {
	universe, err := parseGroupUniverse(universeTag)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireModerator(ctx, actorID, universe, groupID); err != nil {
		return nil, err
	}
	if s.auditor == nil {
		return []*audit.Entry{}, nil
	}
	entries, err := s.auditor.Recent(ctx, universe.String(), groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read moderation log: %w", err)
	}
	return entries, nil
}
