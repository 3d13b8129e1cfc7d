package relationship

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rendezvous-backend/internal/domain"
)

type MockFriendshipRepository struct {
	mock.Mock
}

func (m *MockFriendshipRepository) ListAcceptedFriendIDs(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, universe, userID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) ListPartnerIDs(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, universe, userID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockConversationRepository) GetByID(ctx context.Context, universe domain.Universe, conversationID uuid.UUID) (*domain.DirectConversation, error) {
	args := m.Called(ctx, universe, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DirectConversation), args.Error(1)
}

type MockGroupRepository struct {
	mock.Mock
}

func (m *MockGroupRepository) ListActiveGroupIDsForUser(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, universe, userID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockGroupRepository) ListActiveMemberIDs(ctx context.Context, universe domain.Universe, groupID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, universe, groupID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func newMocks() (*MockFriendshipRepository, *MockConversationRepository, *MockGroupRepository, *Service) {
	f := new(MockFriendshipRepository)
	c := new(MockConversationRepository)
	g := new(MockGroupRepository)
	return f, c, g, NewService(f, c, g)
}

func TestFriends_ScansEveryFriendshipTable(t *testing.T) {
	friends, _, _, service := newMocks()
	ctx := context.Background()
	user, legacyFriend, loveFriend := uuid.New(), uuid.New(), uuid.New()

	friends.On("ListAcceptedFriendIDs", ctx, domain.UniverseLegacy, user).Return([]uuid.UUID{legacyFriend}, nil)
	friends.On("ListAcceptedFriendIDs", ctx, domain.UniverseBasic, user).Return([]uuid.UUID{}, nil)
	friends.On("ListAcceptedFriendIDs", ctx, domain.UniverseLove, user).Return([]uuid.UUID{loveFriend, legacyFriend}, nil)
	friends.On("ListAcceptedFriendIDs", ctx, domain.UniverseBusiness, user).Return([]uuid.UUID{}, nil)

	ids, err := service.Friends(ctx, user)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{legacyFriend, loveFriend}, ids)
	friends.AssertNumberOfCalls(t, "ListAcceptedFriendIDs", 4)
}

func TestFriends_PropagatesStoreError(t *testing.T) {
	friends, _, _, service := newMocks()
	ctx := context.Background()
	user := uuid.New()

	friends.On("ListAcceptedFriendIDs", ctx, domain.UniverseLegacy, user).Return([]uuid.UUID(nil), errors.New("connection refused"))

	_, err := service.Friends(ctx, user)
	assert.Error(t, err)
}

func TestGroupPeers_SkipsLegacyAndExcludesUser(t *testing.T) {
	_, _, groups, service := newMocks()
	ctx := context.Background()
	user, peer, groupID := uuid.New(), uuid.New(), uuid.New()

	groups.On("ListActiveGroupIDsForUser", ctx, domain.UniverseBasic, user).Return([]uuid.UUID{groupID}, nil)
	groups.On("ListActiveGroupIDsForUser", ctx, domain.UniverseLove, user).Return([]uuid.UUID{}, nil)
	groups.On("ListActiveGroupIDsForUser", ctx, domain.UniverseBusiness, user).Return([]uuid.UUID{}, nil)
	groups.On("ListActiveMemberIDs", ctx, domain.UniverseBasic, groupID).Return([]uuid.UUID{user, peer}, nil)

	ids, err := service.GroupPeers(ctx, user)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{peer}, ids)
	groups.AssertNotCalled(t, "ListActiveGroupIDsForUser", ctx, domain.UniverseLegacy, user)
}

func TestStatusAudience_UnionWithoutDuplicates(t *testing.T) {
	friends, convs, groups, service := newMocks()
	ctx := context.Background()
	user, friend, partner, peer := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	groupID := uuid.New()

	friendsBy := map[domain.Universe][]uuid.UUID{domain.UniverseBasic: {friend, partner}}
	partnersBy := map[domain.Universe][]uuid.UUID{domain.UniverseLegacy: {partner}}
	groupsBy := map[domain.Universe][]uuid.UUID{domain.UniverseBusiness: {groupID}}

	for _, u := range domain.AllUniverses {
		friends.On("ListAcceptedFriendIDs", ctx, u, user).Return(append([]uuid.UUID{}, friendsBy[u]...), nil)
		convs.On("ListPartnerIDs", ctx, u, user).Return(append([]uuid.UUID{}, partnersBy[u]...), nil)
	}
	for _, u := range domain.TaggedUniverses {
		groups.On("ListActiveGroupIDsForUser", ctx, u, user).Return(append([]uuid.UUID{}, groupsBy[u]...), nil)
	}
	groups.On("ListActiveMemberIDs", ctx, domain.UniverseBusiness, groupID).Return([]uuid.UUID{user, peer, friend}, nil)

	ids, err := service.StatusAudience(ctx, user)

	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{friend, partner, peer}, ids)
	assert.NotContains(t, ids, user)
}

func TestParticipants_RoutesByKind(t *testing.T) {
	_, convs, groups, service := newMocks()
	ctx := context.Background()
	a, b := domain.SortPair(uuid.New(), uuid.New())
	conv := &domain.DirectConversation{ConversationID: uuid.New(), UserLow: a, UserHigh: b}
	groupID := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	convs.On("GetByID", ctx, domain.UniverseLove, conv.ConversationID).Return(conv, nil)
	groups.On("ListActiveMemberIDs", ctx, domain.UniverseBasic, groupID).Return(members, nil)

	direct, err := service.Participants(ctx, domain.ConversationRef{Kind: domain.KindDirect, Universe: domain.UniverseLove, ConversationID: conv.ConversationID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, direct)

	group, err := service.Participants(ctx, domain.ConversationRef{Kind: domain.KindGroup, Universe: domain.UniverseBasic, GroupID: groupID, ChannelID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, members, group)
}
