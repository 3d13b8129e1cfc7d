package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/repository/cassandra"
	"rendezvous-backend/internal/repository/cockroach"
	"rendezvous-backend/pkg/audit"
)

type pairKey struct {
	universe  domain.Universe
	low, high uuid.UUID
}

type memberKey struct {
	universe domain.Universe
	group    uuid.UUID
	user     uuid.UUID
}

type channelKey struct {
	universe domain.Universe
	group    uuid.UUID
	channel  uuid.UUID
}

type friendKey struct {
	universe domain.Universe
	low      uuid.UUID
	high     uuid.UUID
}

// memoryStore fakes every repository the store talks to, honoring the
// universe partitioning the real tables give
type memoryStore struct {
	mu sync.Mutex

	conversations map[pairKey]*domain.DirectConversation
	friendships   map[friendKey]bool
	profiles      map[domain.Universe]map[uuid.UUID]string

	messages map[uuid.UUID]*domain.Message
	receipts map[channelKey]*domain.ReadReceipt

	groups   map[uuid.UUID]*domain.Group
	members  map[memberKey]*domain.GroupMember
	channels map[channelKey]*domain.Channel
	bans     map[memberKey]*domain.Ban

	// visibility backs the join ListVisibleForUser does in SQL
	visibility *memoryVisibility

	calls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[pairKey]*domain.DirectConversation),
		friendships:   make(map[friendKey]bool),
		profiles:      make(map[domain.Universe]map[uuid.UUID]string),
		messages:      make(map[uuid.UUID]*domain.Message),
		receipts:      make(map[channelKey]*domain.ReadReceipt),
		groups:        make(map[uuid.UUID]*domain.Group),
		members:       make(map[memberKey]*domain.GroupMember),
		channels:      make(map[channelKey]*domain.Channel),
		bans:          make(map[memberKey]*domain.Ban),
	}
}

func (m *memoryStore) touch() {
	m.calls++
}

func (m *memoryStore) befriend(universe domain.Universe, a, b uuid.UUID) {
	low, high := domain.SortPair(a, b)
	m.friendships[friendKey{universe, low, high}] = true
}

func (m *memoryStore) setProfile(universe domain.Universe, userID uuid.UUID, name string) {
	if m.profiles[universe] == nil {
		m.profiles[universe] = make(map[uuid.UUID]string)
	}
	m.profiles[universe][userID] = name
}

// ConversationRepository

func (m *memoryStore) FindOrCreate(_ context.Context, universe domain.Universe, a, b uuid.UUID) (*domain.DirectConversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()
	low, high := domain.SortPair(a, b)
	key := pairKey{universe, low, high}
	if conv, ok := m.conversations[key]; ok {
		copied := *conv
		return &copied, false, nil
	}
	now := time.Now().UTC()
	conv := &domain.DirectConversation{ConversationID: uuid.New(), UserLow: low, UserHigh: high, Universe: universe, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)}
	m.conversations[key] = conv
	copied := *conv
	return &copied, true, nil
}

func (m *memoryStore) GetByPair(_ context.Context, universe domain.Universe, a, b uuid.UUID) (*domain.DirectConversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()
	low, high := domain.SortPair(a, b)
	conv, ok := m.conversations[pairKey{universe, low, high}]
	if !ok {
		return nil, cockroach.ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (m *memoryStore) GetByID(_ context.Context, universe domain.Universe, id uuid.UUID) (*domain.DirectConversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()
	for k, conv := range m.conversations {
		if k.universe == universe && conv.ConversationID == id {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, cockroach.ErrNotFound
}

func (m *memoryStore) Touch(_ context.Context, universe domain.Universe, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, conv := range m.conversations {
		if k.universe == universe && conv.ConversationID == id && at.After(conv.UpdatedAt) {
			conv.UpdatedAt = at
		}
	}
	return nil
}

func (m *memoryStore) ListVisibleForUser(ctx context.Context, universe domain.Universe, userID uuid.UUID, limit int) ([]*domain.DirectConversation, error) {
	shown, err := m.visibility.ShownPartners(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DirectConversation
	for k, conv := range m.conversations {
		if _, ok := shown[conv.Other(userID)]; ok && k.universe == universe && conv.Has(userID) {
			copied := *conv
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FriendshipChecker

func (m *memoryStore) AreFriends(_ context.Context, universe domain.Universe, a, b uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()
	low, high := domain.SortPair(a, b)
	return m.friendships[friendKey{universe, low, high}], nil
}

// ProfileRepository

func (m *memoryStore) GetDisplayNames(_ context.Context, universe domain.Universe, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]string)
	for _, id := range ids {
		if name, ok := m.profiles[universe][id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// MessageRepository

func (m *memoryStore) Save(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()
	stored := *msg
	stored.Body = ""
	stored.Bucket = domain.CalculateBucket(msg.CreatedAt)
	m.messages[msg.MessageID] = &stored
	return nil
}

func (m *memoryStore) stored(id uuid.UUID) *domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[id]
}

func (m *memoryStore) ListRecent(_ context.Context, ref domain.ConversationRef, since time.Time, limit int) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Message
	for _, msg := range m.messages {
		r := msg.Ref()
		if r.Universe == ref.Universe && r.Kind == ref.Kind && r.ContainerID() == ref.ContainerID() && !msg.CreatedAt.Before(since) {
			copied := *msg
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryStore) GetLocator(_ context.Context, id uuid.UUID) (*domain.MessageLocator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, cassandra.ErrNotFound
	}
	return &domain.MessageLocator{
		MessageID:   msg.MessageID,
		Universe:    msg.Universe,
		Kind:        msg.Kind,
		ContainerID: msg.ContainerID,
		GroupID:     msg.GroupID,
		SenderID:    msg.SenderID,
		Bucket:      msg.Bucket,
		CreatedAt:   msg.CreatedAt,
	}, nil
}

func (m *memoryStore) Get(_ context.Context, loc *domain.MessageLocator) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[loc.MessageID]
	if !ok {
		return nil, cassandra.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (m *memoryStore) Delete(_ context.Context, loc *domain.MessageLocator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, loc.MessageID)
	return nil
}

func (m *memoryStore) SetPin(_ context.Context, loc *domain.MessageLocator, actor uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[loc.MessageID]
	msg.IsPinned, msg.PinnedBy, msg.PinnedAt = true, &actor, &at
	return nil
}

func (m *memoryStore) ClearPin(_ context.Context, loc *domain.MessageLocator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[loc.MessageID]
	msg.IsPinned, msg.PinnedBy, msg.PinnedAt = false, nil, nil
	return nil
}

func (m *memoryStore) MarkDirectRead(_ context.Context, ref domain.ConversationRef, reader uuid.UUID, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Kind == domain.KindDirect && msg.Universe == ref.Universe && msg.ContainerID == ref.ConversationID && msg.SenderID != reader && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) UpsertReadReceipt(_ context.Context, universe domain.Universe, receipt *domain.ReadReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *receipt
	m.receipts[channelKey{universe, receipt.UserID, receipt.ChannelID}] = &copied
	return nil
}

// GroupRepository

func (m *memoryStore) CreateWithDefaultChannel(_ context.Context, g *domain.Group) (*domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.GroupID] = g
	m.members[memberKey{g.Universe, g.GroupID, g.CreatedBy}] = &domain.GroupMember{GroupID: g.GroupID, UserID: g.CreatedBy, Role: domain.RoleOwner, IsActive: true, JoinedAt: g.CreatedAt}
	ch := &domain.Channel{ChannelID: uuid.New(), GroupID: g.GroupID, Name: domain.DefaultChannelName, IsDefault: true, CreatedAt: g.CreatedAt.Add(-time.Hour)}
	m.channels[channelKey{g.Universe, g.GroupID, ch.ChannelID}] = ch
	return ch, nil
}

func (m *memoryStore) GetGroup(_ context.Context, universe domain.Universe, groupID uuid.UUID) (*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok || g.Universe != universe {
		return nil, cockroach.ErrNotFound
	}
	copied := *g
	return &copied, nil
}

func (m *memoryStore) GetMember(_ context.Context, universe domain.Universe, groupID, userID uuid.UUID) (*domain.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()
	member, ok := m.members[memberKey{universe, groupID, userID}]
	if !ok {
		return nil, cockroach.ErrNotFound
	}
	copied := *member
	return &copied, nil
}

func (m *memoryStore) AddMember(_ context.Context, universe domain.Universe, member *domain.GroupMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{universe, member.GroupID, member.UserID}
	if existing, ok := m.members[key]; ok && existing.Role == domain.RoleOwner {
		member.Role = domain.RoleOwner
	}
	copied := *member
	m.members[key] = &copied
	return nil
}

func (m *memoryStore) GetChannel(_ context.Context, universe domain.Universe, groupID, channelID uuid.UUID) (*domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelKey{universe, groupID, channelID}]
	if !ok {
		return nil, cockroach.ErrNotFound
	}
	copied := *ch
	return &copied, nil
}

func (m *memoryStore) ListChannels(_ context.Context, universe domain.Universe, groupID uuid.UUID) ([]*domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Channel
	for k, ch := range m.channels {
		if k.universe == universe && k.group == groupID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memoryStore) CreateChannel(_ context.Context, universe domain.Universe, ch *domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := -1
	for k, existing := range m.channels {
		if k.universe == universe && k.group == ch.GroupID && existing.Position > max {
			max = existing.Position
		}
	}
	ch.Position = max + 1
	copied := *ch
	m.channels[channelKey{universe, ch.GroupID, ch.ChannelID}] = &copied
	return nil
}

func (m *memoryStore) DeleteChannel(_ context.Context, universe domain.Universe, groupID, channelID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := channelKey{universe, groupID, channelID}
	ch, ok := m.channels[key]
	if !ok || ch.IsDefault {
		return cockroach.ErrNotFound
	}
	delete(m.channels, key)
	return nil
}

func (m *memoryStore) Ban(_ context.Context, universe domain.Universe, ban *domain.Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{universe, ban.GroupID, ban.UserID}
	m.bans[key] = ban
	if member, ok := m.members[key]; ok {
		member.IsActive = false
	}
	return nil
}

func (m *memoryStore) IsBanned(_ context.Context, universe domain.Universe, groupID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bans[memberKey{universe, groupID, userID}]
	return ok, nil
}

// memoryVisibility fakes the visibility state machine
type memoryVisibility struct {
	mu    sync.Mutex
	state map[[2]uuid.UUID]*domain.ConversationVisibility
}

func newMemoryVisibility() *memoryVisibility {
	return &memoryVisibility{state: make(map[[2]uuid.UUID]*domain.ConversationVisibility)}
}

func (v *memoryVisibility) MarkBothVisible(_ context.Context, a, b uuid.UUID, at time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, k := range [][2]uuid.UUID{{a, b}, {b, a}} {
		ts := at
		v.state[k] = &domain.ConversationVisibility{UserID: k[0], OtherUserID: k[1], Kind: domain.KindDirect, State: domain.VisibilityVisible, LastMessageAt: &ts}
	}
	return nil
}

func (v *memoryVisibility) Hide(_ context.Context, userID, otherID uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := [2]uuid.UUID{userID, otherID}
	if row, ok := v.state[k]; ok {
		row.State = domain.VisibilityHidden
		return nil
	}
	v.state[k] = &domain.ConversationVisibility{UserID: userID, OtherUserID: otherID, Kind: domain.KindDirect, State: domain.VisibilityHidden}
	return nil
}

func (v *memoryVisibility) ShownPartners(_ context.Context, userID uuid.UUID) (map[uuid.UUID]*domain.ConversationVisibility, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[uuid.UUID]*domain.ConversationVisibility)
	for k, row := range v.state {
		if k[0] == userID && row.Shown() {
			out[k[1]] = row
		}
	}
	return out, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (p *capturePublisher) Publish(event *domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) types() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (a *memoryAudit) Record(_ context.Context, entry *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append([]*audit.Entry{entry}, a.entries...)
	return nil
}

func (a *memoryAudit) Recent(_ context.Context, universe string, groupID uuid.UUID, limit int) ([]*audit.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*audit.Entry
	for _, e := range a.entries {
		if e.Universe == universe && e.GroupID == groupID {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
