// Package relationship computes who is related to a user across every universe.
// Its answers decide the recipients of broadcast events.
package relationship

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
)

// FriendshipRepository lists accepted friendships in one universe partition
type FriendshipRepository interface {
	ListAcceptedFriendIDs(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error)
}

// ConversationRepository lists direct conversation partners in one universe partition
type ConversationRepository interface {
	ListPartnerIDs(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error)
	GetByID(ctx context.Context, universe domain.Universe, conversationID uuid.UUID) (*domain.DirectConversation, error)
}

// GroupRepository lists group memberships in one universe partition
type GroupRepository interface {
	ListActiveGroupIDsForUser(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error)
	ListActiveMemberIDs(ctx context.Context, universe domain.Universe, groupID uuid.UUID) ([]uuid.UUID, error)
}

// Service resolves relationship sets
type Service struct {
	friendshipRepo   FriendshipRepository
	conversationRepo ConversationRepository
	groupRepo        GroupRepository
}

// NewService creates a new relationship service
func NewService(friendshipRepo FriendshipRepository, conversationRepo ConversationRepository, groupRepo GroupRepository) *Service {
	return &Service{
		friendshipRepo:   friendshipRepo,
		conversationRepo: conversationRepo,
		groupRepo:        groupRepo,
	}
}

// Friends returns accepted friends across the legacy table and every universe
func (s *Service) Friends(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	set := newIDSet()
	for _, universe := range domain.AllUniverses {
		ids, err := s.friendshipRepo.ListAcceptedFriendIDs(ctx, universe, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s friends: %w", universe, err)
		}
		set.add(ids...)
	}
	return set.without(userID), nil
}

// DirectPartners returns everyone the user has a direct conversation with, in any universe
func (s *Service) DirectPartners(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	set := newIDSet()
	for _, universe := range domain.AllUniverses {
		ids, err := s.conversationRepo.ListPartnerIDs(ctx, universe, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s conversation partners: %w", universe, err)
		}
		set.add(ids...)
	}
	return set.without(userID), nil
}

// GroupPeers returns the active co-members of every group the user is active in.
// Groups only exist in the tagged universes.
func (s *Service) GroupPeers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	set := newIDSet()
	for _, universe := range domain.TaggedUniverses {
		groupIDs, err := s.groupRepo.ListActiveGroupIDsForUser(ctx, universe, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s groups: %w", universe, err)
		}
		for _, groupID := range groupIDs {
			members, err := s.groupRepo.ListActiveMemberIDs(ctx, universe, groupID)
			if err != nil {
				return nil, fmt.Errorf("failed to list members of group %s: %w", groupID, err)
			}
			set.add(members...)
		}
	}
	return set.without(userID), nil
}

// StatusAudience is the deduplicated union of friends, direct partners and group
// peers. The user is never part of their own audience.
func (s *Service) StatusAudience(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	set := newIDSet()

	friends, err := s.Friends(ctx, userID)
	if err != nil {
		return nil, err
	}
	set.add(friends...)

	partners, err := s.DirectPartners(ctx, userID)
	if err != nil {
		return nil, err
	}
	set.add(partners...)

	peers, err := s.GroupPeers(ctx, userID)
	if err != nil {
		return nil, err
	}
	set.add(peers...)

	return set.without(userID), nil
}

// DirectParticipants returns both sides of a direct conversation
func (s *Service) DirectParticipants(ctx context.Context, universe domain.Universe, conversationID uuid.UUID) ([]uuid.UUID, error) {
	conv, err := s.conversationRepo.GetByID(ctx, universe, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv.Participants(), nil
}

// GroupMembers returns the active members of a group in its universe
func (s *Service) GroupMembers(ctx context.Context, universe domain.Universe, groupID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.groupRepo.ListActiveMemberIDs(ctx, universe, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return ids, nil
}

// Participants resolves the recipients of an event addressed to a conversation
func (s *Service) Participants(ctx context.Context, ref domain.ConversationRef) ([]uuid.UUID, error) {
	if ref.Kind == domain.KindGroup {
		return s.GroupMembers(ctx, ref.Universe, ref.GroupID)
	}
	return s.DirectParticipants(ctx, ref.Universe, ref.ConversationID)
}

// idSet keeps first-seen order so recipient lists are stable
type idSet struct {
	seen  map[uuid.UUID]struct{}
	order []uuid.UUID
}

func newIDSet() *idSet {
	return &idSet{seen: make(map[uuid.UUID]struct{})}
}

func (s *idSet) add(ids ...uuid.UUID) {
	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.order = append(s.order, id)
	}
}

func (s *idSet) without(id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.order))
	for _, v := range s.order {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
