package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/repository/cockroach"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
)

// FindOrCreateDirectConversation returns the conversation of the pair in the
// universe, creating it on first use. Visibility is left untouched.
func (s *Service) FindOrCreateDirectConversation(ctx context.Context, a, b uuid.UUID, universeTag string) (*domain.DirectConversation, bool, error) {
	universe, err := parseUniverse(universeTag)
	if err != nil {
		return nil, false, err
	}
	if a == b {
		return nil, false, appErrors.ValidationError("a conversation needs two different users")
	}

	conv, created, err := s.conversations.FindOrCreate(ctx, universe, a, b)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find or create conversation: %w", err)
	}
	return conv, created, nil
}

// SendDirectMessageInput contains data for a direct message
type SendDirectMessageInput struct {
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	Universe    string
	Body        string
	ReplyTo     *uuid.UUID
	Attachments []domain.Attachment
}

// SendDirectMessageOutput is the stored message with its plaintext, and the conversation it went to
type SendDirectMessageOutput struct {
	Message      *domain.Message            `json:"message"`
	Conversation *domain.DirectConversation `json:"conversation"`
	Created      bool                       `json:"created"`
}

// SendDirectMessage stores a message between two friends and shows the
// conversation to both of them again
func (s *Service) SendDirectMessage(ctx context.Context, input *SendDirectMessageInput) (*SendDirectMessageOutput, error) {
	body, err := validateBody(input.Body)
	if err != nil {
		return nil, err
	}
	universe, err := parseUniverse(input.Universe)
	if err != nil {
		return nil, err
	}
	if input.SenderID == input.ReceiverID {
		return nil, appErrors.ValidationError("cannot send a message to yourself")
	}
	if err := validateAttachments(input.Attachments); err != nil {
		return nil, err
	}

	friends, err := s.friendships.AreFriends(ctx, universe, input.SenderID, input.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to check friendship: %w", err)
	}
	if !friends {
		return nil, deny("not_friends", appErrors.NotFriendsError(universe.String()))
	}

	conv, created, err := s.conversations.FindOrCreate(ctx, universe, input.SenderID, input.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create conversation: %w", err)
	}
	ref := domain.ConversationRef{Kind: domain.KindDirect, Universe: universe, ConversationID: conv.ConversationID}

	reply, err := s.resolveReply(ctx, ref, input.ReplyTo)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msg := &domain.Message{
		MessageID:   uuid.New(),
		Universe:    universe,
		Kind:        domain.KindDirect,
		ContainerID: conv.ConversationID,
		SenderID:    input.SenderID,
		Body:        body,
		MessageType: domain.MessageTypeText,
		ReplyTo:     reply,
		Attachments: input.Attachments,
		CreatedAt:   now,
	}
	if err := s.store(ctx, msg); err != nil {
		return nil, err
	}
	msg.SenderName = s.displayNames(ctx, universe, []uuid.UUID{input.SenderID})[input.SenderID]

	// The message is committed; bookkeeping failures are logged so a retry does not duplicate it
	if err := s.visibility.MarkBothVisible(ctx, input.SenderID, input.ReceiverID, now); err != nil {
		logger.Warn("Failed to reset conversation visibility",
			zap.String("conversation_id", conv.ConversationID.String()),
			zap.Error(err))
	}
	if err := s.conversations.Touch(ctx, universe, conv.ConversationID, now); err != nil {
		logger.Warn("Failed to advance conversation timestamp",
			zap.String("conversation_id", conv.ConversationID.String()),
			zap.Error(err))
	} else if now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}

	if created {
		s.publisher.Publish(&domain.Event{
			Type:  domain.EventNewConversation,
			Data:  &domain.NewConversationData{Conversation: conv, InitiatorID: input.SenderID},
			Actor: input.SenderID,
		})
	}
	s.publisher.Publish(&domain.Event{
		Type:  domain.EventNewMessage,
		Data:  msg,
		Actor: input.SenderID,
		Ref:   &ref,
	})

	return &SendDirectMessageOutput{Message: msg, Conversation: conv, Created: created}, nil
}

// HideConversation removes the conversation with other from user's list. The
// other participant's list and the messages are untouched.
func (s *Service) HideConversation(ctx context.Context, userID, otherID uuid.UUID, universeTag string) error {
	universe, err := parseUniverse(universeTag)
	if err != nil {
		return err
	}

	if _, err := s.conversations.GetByPair(ctx, universe, userID, otherID); err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return appErrors.NotFoundError("conversation")
		}
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	return s.visibility.Hide(ctx, userID, otherID)
}

// ListConversations returns the user's shown direct conversations in the universe, newest first
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID, universeTag string) ([]*domain.ConversationSummary, error) {
	universe, err := parseUniverse(universeTag)
	if err != nil {
		return nil, err
	}

	convs, err := s.conversations.ListVisibleForUser(ctx, universe, userID, s.listLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	shown, err := s.visibility.ShownPartners(ctx, userID)
	if err != nil {
		return nil, err
	}

	var partners []uuid.UUID
	var visible []*domain.DirectConversation
	for _, conv := range convs {
		partner := conv.Other(userID)
		if _, ok := shown[partner]; !ok {
			continue
		}
		visible = append(visible, conv)
		partners = append(partners, partner)
	}
	names := s.displayNames(ctx, universe, partners)

	summaries := make([]*domain.ConversationSummary, 0, len(visible))
	for _, conv := range visible {
		partner := conv.Other(userID)
		summaries = append(summaries, &domain.ConversationSummary{
			ConversationID: conv.ConversationID,
			Universe:       universe,
			PartnerID:      partner,
			PartnerName:    names[partner],
			LastMessageAt:  shown[partner].LastMessageAt,
			UpdatedAt:      conv.UpdatedAt,
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}
