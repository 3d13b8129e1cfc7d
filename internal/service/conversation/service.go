// Package conversation is the conversation store: direct and group
// conversations and their messages, partitioned per universe.
//
// Every operation resolves its universe before touching storage, and every
// repository call carries it, so a conversation in one universe can never read
// or write rows of another.
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
	"rendezvous-backend/internal/repository/cassandra"
	"rendezvous-backend/internal/repository/cockroach"
	"rendezvous-backend/pkg/audit"
	"rendezvous-backend/pkg/constants"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
	"rendezvous-backend/pkg/sanitize"
)

// ConversationRepository stores direct conversations
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, universe domain.Universe, a, b uuid.UUID) (*domain.DirectConversation, bool, error)
	GetByPair(ctx context.Context, universe domain.Universe, a, b uuid.UUID) (*domain.DirectConversation, error)
	GetByID(ctx context.Context, universe domain.Universe, conversationID uuid.UUID) (*domain.DirectConversation, error)
	Touch(ctx context.Context, universe domain.Universe, conversationID uuid.UUID, at time.Time) error
	ListVisibleForUser(ctx context.Context, universe domain.Universe, userID uuid.UUID, limit int) ([]*domain.DirectConversation, error)
}

// MessageRepository stores messages, their locators and group read receipts
type MessageRepository interface {
	Save(ctx context.Context, message *domain.Message) error
	ListRecent(ctx context.Context, ref domain.ConversationRef, since time.Time, limit int) ([]*domain.Message, error)
	GetLocator(ctx context.Context, messageID uuid.UUID) (*domain.MessageLocator, error)
	Get(ctx context.Context, loc *domain.MessageLocator) (*domain.Message, error)
	Delete(ctx context.Context, loc *domain.MessageLocator) error
	SetPin(ctx context.Context, loc *domain.MessageLocator, actor uuid.UUID, at time.Time) error
	ClearPin(ctx context.Context, loc *domain.MessageLocator) error
	MarkDirectRead(ctx context.Context, ref domain.ConversationRef, reader uuid.UUID, since time.Time) (int, error)
	UpsertReadReceipt(ctx context.Context, universe domain.Universe, receipt *domain.ReadReceipt) error
}

// GroupRepository stores groups, members, channels and bans
type GroupRepository interface {
	CreateWithDefaultChannel(ctx context.Context, group *domain.Group) (*domain.Channel, error)
	GetGroup(ctx context.Context, universe domain.Universe, groupID uuid.UUID) (*domain.Group, error)
	GetMember(ctx context.Context, universe domain.Universe, groupID, userID uuid.UUID) (*domain.GroupMember, error)
	AddMember(ctx context.Context, universe domain.Universe, member *domain.GroupMember) error
	GetChannel(ctx context.Context, universe domain.Universe, groupID, channelID uuid.UUID) (*domain.Channel, error)
	ListChannels(ctx context.Context, universe domain.Universe, groupID uuid.UUID) ([]*domain.Channel, error)
	CreateChannel(ctx context.Context, universe domain.Universe, channel *domain.Channel) error
	DeleteChannel(ctx context.Context, universe domain.Universe, groupID, channelID uuid.UUID) error
	Ban(ctx context.Context, universe domain.Universe, ban *domain.Ban) error
	IsBanned(ctx context.Context, universe domain.Universe, groupID, userID uuid.UUID) (bool, error)
}

// FriendshipChecker gates direct messaging
type FriendshipChecker interface {
	AreFriends(ctx context.Context, universe domain.Universe, a, b uuid.UUID) (bool, error)
}

// ProfileRepository resolves universe-specific display names
type ProfileRepository interface {
	GetDisplayNames(ctx context.Context, universe domain.Universe, userIDs []uuid.UUID) (map[uuid.UUID]string, error)
}

// VisibilityTracker is the visibility state machine
type VisibilityTracker interface {
	MarkBothVisible(ctx context.Context, a, b uuid.UUID, lastMessageAt time.Time) error
	Hide(ctx context.Context, userID, otherID uuid.UUID) error
	ShownPartners(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]*domain.ConversationVisibility, error)
}

// Cipher encrypts bodies at rest
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(stored string) string
}

// Publisher hands events to the dispatcher
type Publisher interface {
	Publish(event *domain.Event)
}

// Auditor keeps the moderation trail of groups
type Auditor interface {
	Record(ctx context.Context, entry *audit.Entry) error
	Recent(ctx context.Context, universe string, groupID uuid.UUID, limit int) ([]*audit.Entry, error)
}

// Dependencies groups the collaborators of the store
type Dependencies struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Groups        GroupRepository
	Friendships   FriendshipChecker
	Profiles      ProfileRepository
	Visibility    VisibilityTracker
	Cipher        Cipher
	Publisher     Publisher
	// Audit may be nil
	Audit         Auditor
}

// Service handles conversation business logic
type Service struct {
	conversations ConversationRepository
	messages      MessageRepository
	groups        GroupRepository
	friendships   FriendshipChecker
	profiles      ProfileRepository
	visibility    VisibilityTracker
	cipher        Cipher
	publisher     Publisher
	auditor       Auditor
	listLimit     int
	now           func() time.Time
}

// NewService creates a new conversation service
func NewService(deps Dependencies) *Service {
	return &Service{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		groups:        deps.Groups,
		friendships:   deps.Friendships,
		profiles:      deps.Profiles,
		visibility:    deps.Visibility,
		cipher:        deps.Cipher,
		publisher:     deps.Publisher,
		auditor:       deps.Audit,
		listLimit:     constants.DefaultConversationLimit,
		now:           time.Now,
	}
}

// RefInput addresses a conversation as a client names it
type RefInput struct {
	Kind           domain.ConversationKind `json:"kind"`
	Universe       string                  `json:"universe"`
	ConversationID uuid.UUID               `json:"conversation_id"`
	GroupID        uuid.UUID               `json:"group_id"`
	ChannelID      uuid.UUID               `json:"channel_id"`
}

// resolve validates the selector. Groups have no legacy partition.
func (in RefInput) resolve() (domain.ConversationRef, error) {
	universe, err := parseUniverse(in.Universe)
	if err != nil {
		return domain.ConversationRef{}, err
	}

	switch in.Kind {
	case domain.KindDirect:
		if in.ConversationID == uuid.Nil {
			return domain.ConversationRef{}, appErrors.MissingFieldError("conversation_id")
		}
		return domain.ConversationRef{Kind: domain.KindDirect, Universe: universe, ConversationID: in.ConversationID}, nil
	case domain.KindGroup:
		if universe.IsLegacy() {
			return domain.ConversationRef{}, appErrors.InvalidUniverseError(in.Universe)
		}
		if in.GroupID == uuid.Nil || in.ChannelID == uuid.Nil {
			return domain.ConversationRef{}, appErrors.MissingFieldError("group_id and channel_id")
		}
		return domain.ConversationRef{Kind: domain.KindGroup, Universe: universe, GroupID: in.GroupID, ChannelID: in.ChannelID}, nil
	}
	return domain.ConversationRef{}, appErrors.ValidationError("kind must be direct or group")
}

func parseUniverse(tag string) (domain.Universe, error) {
	universe, err := domain.ParseUniverse(tag)
	if err != nil {
		return "", appErrors.InvalidUniverseError(tag)
	}
	return universe, nil
}

func parseGroupUniverse(tag string) (domain.Universe, error) {
	universe, err := parseUniverse(tag)
	if err != nil {
		return "", err
	}
	if universe.IsLegacy() {
		return "", appErrors.InvalidUniverseError(tag)
	}
	return universe, nil
}

// validateBody normalizes the body and enforces the length bounds
func validateBody(body string) (string, error) {
	body = sanitize.Text(body)
	if body == "" {
		return "", appErrors.EmptyBodyError()
	}
	if utf8.RuneCountInString(body) > constants.MaxMessageLength {
		return "", appErrors.ValidationError(fmt.Sprintf("message exceeds %d characters", constants.MaxMessageLength))
	}
	return body, nil
}

func validateAttachments(attachments []domain.Attachment) error {
	if len(attachments) > constants.MaxAttachments {
		return appErrors.ValidationError(fmt.Sprintf("at most %d attachments are allowed", constants.MaxAttachments))
	}
	for _, a := range attachments {
		if strings.TrimSpace(a.URL) == "" {
			return appErrors.MissingFieldError("attachments.url")
		}
	}
	return nil
}

// access is the result of authorizing an actor against a conversation
type access struct {
	ref          domain.ConversationRef
	conversation *domain.DirectConversation
	member       *domain.GroupMember
	channel      *domain.Channel
}

// since is the oldest instant a message of the conversation can carry
func (a *access) since() time.Time {
	if a.conversation != nil {
		return a.conversation.CreatedAt
	}
	if a.channel != nil {
		return a.channel.CreatedAt
	}
	return time.Time{}
}

// authorize checks that actor participates in ref
func (s *Service) authorize(ctx context.Context, actor uuid.UUID, ref domain.ConversationRef) (*access, error) {
	if ref.Kind == domain.KindGroup {
		member, channel, err := s.authorizeGroup(ctx, actor, ref.Universe, ref.GroupID, ref.ChannelID)
		if err != nil {
			return nil, err
		}
		return &access{ref: ref, member: member, channel: channel}, nil
	}

	conv, err := s.conversations.GetByID(ctx, ref.Universe, ref.ConversationID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, appErrors.NotFoundError("conversation")
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if !conv.Has(actor) {
		return nil, deny("not_participant", appErrors.NotParticipantError())
	}
	return &access{ref: ref, conversation: conv}, nil
}

// authorizeGroup requires an active, unbanned membership and, when channelID is
// set, a channel of that group
func (s *Service) authorizeGroup(ctx context.Context, actor uuid.UUID, universe domain.Universe, groupID, channelID uuid.UUID) (*domain.GroupMember, *domain.Channel, error) {
	banned, err := s.groups.IsBanned(ctx, universe, groupID, actor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check ban: %w", err)
	}
	if banned {
		return nil, nil, deny("banned", appErrors.BannedError())
	}

	member, err := s.groups.GetMember(ctx, universe, groupID, actor)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, nil, s.missingMembership(ctx, universe, groupID)
		}
		return nil, nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if !member.IsActive {
		return nil, nil, deny("not_member", appErrors.NotMemberError())
	}

	if channelID == uuid.Nil {
		return member, nil, nil
	}
	channel, err := s.groups.GetChannel(ctx, universe, groupID, channelID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, nil, appErrors.NotFoundError("channel")
		}
		return nil, nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return member, channel, nil
}

// missingMembership tells a group that does not exist in the universe apart
// from one the actor is not in
func (s *Service) missingMembership(ctx context.Context, universe domain.Universe, groupID uuid.UUID) error {
	if _, err := s.groups.GetGroup(ctx, universe, groupID); err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return appErrors.NotFoundError("group")
		}
		return fmt.Errorf("failed to get group: %w", err)
	}
	return deny("not_member", appErrors.NotMemberError())
}

// requireModerator authorizes actor as an admin or owner of the group
func (s *Service) requireModerator(ctx context.Context, actor uuid.UUID, universe domain.Universe, groupID uuid.UUID) (*domain.GroupMember, error) {
	member, _, err := s.authorizeGroup(ctx, actor, universe, groupID, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if !member.Role.CanModerate() {
		return nil, deny("role", appErrors.RoleRequiredError(string(domain.RoleAdmin), string(domain.RoleOwner)))
	}
	return member, nil
}

func deny(reason string, err *appErrors.AppError) error {
	metrics.ChatMessageSendUnauthorizedTotal.WithLabelValues(reason).Inc()
	return err
}

// displayNames resolves names in the universe, falling back to the placeholder.
// A lookup failure degrades to placeholders rather than failing the read.
func (s *Service) displayNames(ctx context.Context, universe domain.Universe, ids []uuid.UUID) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) > 0 {
		found, err := s.profiles.GetDisplayNames(ctx, universe, ids)
		if err != nil {
			logger.Warn("Failed to resolve display names",
				zap.String("universe", universe.String()),
				zap.Error(err))
		}
		for id, name := range found {
			if name != "" {
				names[id] = name
			}
		}
	}
	for _, id := range ids {
		if _, ok := names[id]; !ok {
			names[id] = domain.UnknownSenderName
		}
	}
	return names
}

// resolveReply builds the reply reference. The target must live in the same
// conversation as the new message.
func (s *Service) resolveReply(ctx context.Context, ref domain.ConversationRef, replyTo *uuid.UUID) (*domain.ReplyRef, error) {
	if replyTo == nil || *replyTo == uuid.Nil {
		return nil, nil
	}

	loc, err := s.messages.GetLocator(ctx, *replyTo)
	if err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return nil, appErrors.InvalidReplyError("reply target does not exist")
		}
		return nil, fmt.Errorf("failed to get reply target: %w", err)
	}
	target := loc.Ref()
	if target.Universe != ref.Universe || target.Kind != ref.Kind || target.ContainerID() != ref.ContainerID() {
		return nil, appErrors.InvalidReplyError("reply target belongs to another conversation")
	}

	msg, err := s.messages.Get(ctx, loc)
	if err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return nil, appErrors.InvalidReplyError("reply target does not exist")
		}
		return nil, fmt.Errorf("failed to get reply target: %w", err)
	}

	return &domain.ReplyRef{
		MessageID: msg.MessageID,
		SenderID:  msg.SenderID,
		Preview:   preview(s.cipher.Decrypt(msg.Ciphertext)),
	}, nil
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= domain.ReplyPreviewLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:domain.ReplyPreviewLength])
}

// store encrypts and persists a message, leaving the plaintext on it
func (s *Service) store(ctx context.Context, msg *domain.Message) error {
	ciphertext, err := s.cipher.Encrypt(msg.Body)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}
	msg.Ciphertext = ciphertext
	if err := s.messages.Save(ctx, msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	metrics.ChatMessageCreatedTotal.WithLabelValues(string(msg.Kind), msg.Universe.String()).Inc()
	return nil
}

// record appends to the group's moderation trail once the change is committed.
// Failures are logged.
func (s *Service) record(ctx context.Context, universe domain.Universe, groupID, actorID uuid.UUID, action audit.Action, target uuid.UUID, details string) {
	if s.auditor == nil {
		return
	}
	entry := &audit.Entry{
		Universe:  universe.String(),
		GroupID:   groupID,
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		Timestamp: s.now().UTC(),
	}
	if target != uuid.Nil {
		entry.TargetID = &target
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		logger.Warn("Failed to record moderation action",
			zap.String("action", string(action)),
			zap.String("group_id", groupID.String()),
			zap.Error(err))
	}
}
