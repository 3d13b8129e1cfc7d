package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/repository/cassandra"
	"rendezvous-backend/pkg/audit"
	"rendezvous-backend/pkg/constants"
	appErrors "rendezvous-backend/pkg/errors"
)

// ListMessages returns the newest limit messages of the conversation, oldest
// first, decrypted and carrying each sender's display name in the universe
func (s *Service) ListMessages(ctx context.Context, actorID uuid.UUID, in RefInput, limit int) ([]*domain.Message, error) {
	ref, err := in.resolve()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = constants.DefaultMessageLimit
	}
	if limit > constants.MaxMessageLimit {
		limit = constants.MaxMessageLimit
	}

	acc, err := s.authorize(ctx, actorID, ref)
	if err != nil {
		return nil, err
	}

	messages, err := s.messages.ListRecent(ctx, ref, acc.since(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	senders := make([]uuid.UUID, 0, len(messages))
	seen := make(map[uuid.UUID]struct{}, len(messages))
	for _, m := range messages {
		m.Body = s.cipher.Decrypt(m.Ciphertext)
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senders = append(senders, m.SenderID)
		}
	}

	names := s.displayNames(ctx, ref.Universe, senders)
	for _, m := range messages {
		m.SenderName = names[m.SenderID]
	}
	return messages, nil
}

// locate finds a message through its locator and checks it belongs to ref
func (s *Service) locate(ctx context.Context, ref *domain.ConversationRef, messageID uuid.UUID) (*domain.MessageLocator, error) {
	loc, err := s.messages.GetLocator(ctx, messageID)
	if err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return nil, appErrors.MessageNotFoundError()
		}
		return nil, fmt.Errorf("failed to locate message: %w", err)
	}
	if ref != nil {
		owner := loc.Ref()
		if owner.Universe != ref.Universe || owner.Kind != ref.Kind || owner.ContainerID() != ref.ContainerID() {
			return nil, appErrors.MessageNotFoundError()
		}
	}
	return loc, nil
}

// DeleteMessage removes a message. Direct messages can only be deleted by their
// sender; group messages also by admins and owners.
func (s *Service) DeleteMessage(ctx context.Context, actorID uuid.UUID, in RefInput, messageID uuid.UUID) error {
	ref, err := in.resolve()
	if err != nil {
		return err
	}
	acc, err := s.authorize(ctx, actorID, ref)
	if err != nil {
		return err
	}
	loc, err := s.locate(ctx, &ref, messageID)
	if err != nil {
		return err
	}

	if loc.SenderID != actorID {
		if ref.Kind == domain.KindDirect {
			return deny("not_sender", appErrors.ForbiddenError("only the sender can delete this message"))
		}
		if !acc.member.Role.CanModerate() {
			return deny("role", appErrors.RoleRequiredError(string(domain.RoleAdmin), string(domain.RoleOwner)))
		}
	}

	if err := s.messages.Delete(ctx, loc); err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return appErrors.MessageNotFoundError()
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if ref.Kind == domain.KindGroup && loc.SenderID != actorID {
		s.record(ctx, ref.Universe, ref.GroupID, actorID, audit.ActionMessageDelete, messageID, "")
	}
	return nil
}

// Pin marks a group message as pinned. The message's universe comes from its locator.
func (s *Service) Pin(ctx context.Context, actorID, messageID uuid.UUID) (*domain.Message, error) {
	return s.setPinned(ctx, actorID, messageID, true)
}

// Unpin clears the pin metadata of a group message
func (s *Service) Unpin(ctx context.Context, actorID, messageID uuid.UUID) (*domain.Message, error) {
	return s.setPinned(ctx, actorID, messageID, false)
}

func (s *Service) setPinned(ctx context.Context, actorID, messageID uuid.UUID, pinned bool) (*domain.Message, error) {
	loc, err := s.locate(ctx, nil, messageID)
	if err != nil {
		return nil, err
	}
	if loc.Kind != domain.KindGroup {
		return nil, appErrors.ValidationError("only group messages can be pinned")
	}
	if _, err := s.requireModerator(ctx, actorID, loc.Universe, loc.GroupID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if pinned {
		err = s.messages.SetPin(ctx, loc, actorID, now)
	} else {
		err = s.messages.ClearPin(ctx, loc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update pin: %w", err)
	}
	action := audit.ActionMessageUnpin
	if pinned {
		action = audit.ActionMessagePin
	}
	s.record(ctx, loc.Universe, loc.GroupID, actorID, action, messageID, "")

	msg, err := s.messages.Get(ctx, loc)
	if err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return nil, appErrors.MessageNotFoundError()
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	msg.Body = s.cipher.Decrypt(msg.Ciphertext)
	msg.SenderName = s.displayNames(ctx, loc.Universe, []uuid.UUID{msg.SenderID})[msg.SenderID]
	return msg, nil
}

// MarkRead records that reader has read the conversation up to now and tells
// every participant
func (s *Service) MarkRead(ctx context.Context, readerID uuid.UUID, in RefInput) (*domain.MessageReadData, error) {
	ref, err := in.resolve()
	if err != nil {
		return nil, err
	}
	acc, err := s.authorize(ctx, readerID, ref)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if ref.Kind == domain.KindDirect {
		if _, err := s.messages.MarkDirectRead(ctx, ref, readerID, acc.since()); err != nil {
			return nil, fmt.Errorf("failed to mark messages read: %w", err)
		}
	} else {
		receipt := &domain.ReadReceipt{ChannelID: ref.ChannelID, UserID: readerID, ReadAt: now}
		if err := s.messages.UpsertReadReceipt(ctx, ref.Universe, receipt); err != nil {
			return nil, fmt.Errorf("failed to update read receipt: %w", err)
		}
	}

	data := &domain.MessageReadData{Ref: ref, ReaderID: readerID, ReadAt: now}
	s.publisher.Publish(&domain.Event{
		Type:  domain.EventMessageRead,
		Data:  data,
		Actor: readerID,
		Ref:   &ref,
	})
	return data, nil
}

// NotifyTyping relays a typing signal to the other participants
func (s *Service) NotifyTyping(ctx context.Context, userID uuid.UUID, in RefInput, started bool) error {
	ref, err := in.resolve()
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, userID, ref); err != nil {
		return err
	}

	kind := domain.EventTypingStop
	if started {
		kind = domain.EventTypingStart
	}
	s.publisher.Publish(&domain.Event{
		Type:  kind,
		Data:  &domain.TypingData{Ref: ref, UserID: userID},
		Actor: userID,
		Ref:   &ref,
	})
	return nil
}
