package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/pkg/audit"
	appErrors "rendezvous-backend/pkg/errors"
)

type groupFixture struct {
	*harness
	owner   uuid.UUID
	group   *domain.Group
	channel *domain.Channel
}

func newGroupFixture(t *testing.T, universe string) *groupFixture {
	t.Helper()
	h := newHarness(t)
	owner := uuid.New()
	out, err := h.service.CreateGroup(context.Background(), owner, universe, "  Hiking Club ")
	require.NoError(t, err)
	return &groupFixture{harness: h, owner: owner, group: out.Group, channel: out.DefaultChannel}
}

func (f *groupFixture) in() RefInput {
	return RefInput{Kind: domain.KindGroup, Universe: f.group.Universe.String(), GroupID: f.group.GroupID, ChannelID: f.channel.ChannelID}
}

func (f *groupFixture) join(t *testing.T, role domain.Role) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.service.AddMember(context.Background(), f.owner, f.group.Universe.String(), f.group.GroupID, id, role)
	require.NoError(t, err)
	return id
}

func (f *groupFixture) post(t *testing.T, sender uuid.UUID, body string) *domain.Message {
	t.Helper()
	in := f.in()
	msg, err := f.service.SendGroupMessage(context.Background(), &SendGroupMessageInput{
		SenderID: sender, Universe: in.Universe, GroupID: in.GroupID, ChannelID: in.ChannelID, Body: body,
	})
	require.NoError(t, err)
	return msg
}

func TestCreateGroup(t *testing.T) {
	f := newGroupFixture(t, "business")

	assert.Equal(t, "Hiking Club", f.group.Name)
	assert.Equal(t, domain.UniverseBusiness, f.group.Universe)
	assert.True(t, f.channel.IsDefault)

	_, err := f.service.CreateGroup(context.Background(), f.owner, "legacy", "x")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeInvalidUniverse))
}

func TestSendGroupMessage_MembersOnly(t *testing.T) {
	f := newGroupFixture(t, "basic")
	in := f.in()

	_, err := f.service.SendGroupMessage(context.Background(), &SendGroupMessageInput{
		SenderID: uuid.New(), Universe: in.Universe, GroupID: in.GroupID, ChannelID: in.ChannelID, Body: "let me in",
	})

	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotMember))
	assert.Empty(t, f.store.messages)
}

func TestSendGroupMessage_UnknownChannel(t *testing.T) {
	f := newGroupFixture(t, "basic")

	_, err := f.service.SendGroupMessage(context.Background(), &SendGroupMessageInput{
		SenderID: f.owner, Universe: "basic", GroupID: f.group.GroupID, ChannelID: uuid.New(), Body: "hello",
	})

	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFound))
}

func TestSendGroupMessage_WrongUniverseIsNotFound(t *testing.T) {
	f := newGroupFixture(t, "love")

	_, err := f.service.SendGroupMessage(context.Background(), &SendGroupMessageInput{
		SenderID: f.owner, Universe: "basic", GroupID: f.group.GroupID, ChannelID: f.channel.ChannelID, Body: "hello",
	})

	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFound))
}

func TestGroupOperations_UnknownGroup(t *testing.T) {
	f := newGroupFixture(t, "basic")
	ctx := context.Background()
	missing := uuid.New()

	_, err := f.service.ListChannels(ctx, f.owner, "basic", missing)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFound))

	_, err = f.service.ModerationLog(ctx, f.owner, "basic", missing, 10)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFound))

	_, err = f.service.ListChannels(ctx, uuid.New(), "basic", f.group.GroupID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotMember))
}

func TestSendGroupMessage_StoresReceiptAndPublishes(t *testing.T) {
	f := newGroupFixture(t, "basic")
	member := f.join(t, domain.RoleMember)

	msg := f.post(t, member, "anyone up for saturday?")

	assert.Equal(t, "anyone up for saturday?", msg.Body)
	receipt := f.store.receipts[channelKey{domain.UniverseBasic, member, f.channel.ChannelID}]
	require.NotNil(t, receipt)
	assert.Equal(t, msg.CreatedAt, receipt.ReadAt)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, domain.EventNewMessage, last.Type)
	require.NotNil(t, last.Ref)
	assert.Equal(t, f.channel.ChannelID, last.Ref.ChannelID)
}

func TestBanMember(t *testing.T) {
	f := newGroupFixture(t, "basic")
	ctx := context.Background()
	admin := f.join(t, domain.RoleAdmin)
	member := f.join(t, domain.RoleMember)
	in := f.in()

	require.NoError(t, f.service.BanMember(ctx, admin, "basic", f.group.GroupID, member, "spam"))

	_, err := f.service.SendGroupMessage(ctx, &SendGroupMessageInput{
		SenderID: member, Universe: in.Universe, GroupID: in.GroupID, ChannelID: in.ChannelID, Body: "still here",
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeBanned))

	_, err = f.service.AddMember(ctx, f.owner, "basic", f.group.GroupID, member, domain.RoleMember)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeBanned))

	err = f.service.BanMember(ctx, admin, "basic", f.group.GroupID, f.owner, "")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeForbidden))

	err = f.service.BanMember(ctx, admin, "basic", f.group.GroupID, admin, "")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))
}

func TestAddMember_RoleRules(t *testing.T) {
	f := newGroupFixture(t, "basic")
	ctx := context.Background()
	admin := f.join(t, domain.RoleAdmin)
	member := f.join(t, domain.RoleMember)

	_, err := f.service.AddMember(ctx, admin, "basic", f.group.GroupID, uuid.New(), domain.RoleAdmin)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeRoleRequired))

	_, err = f.service.AddMember(ctx, member, "basic", f.group.GroupID, uuid.New(), domain.RoleMember)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeRoleRequired))

	_, err = f.service.AddMember(ctx, f.owner, "basic", f.group.GroupID, uuid.New(), domain.RoleOwner)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))

	added, err := f.service.AddMember(ctx, admin, "basic", f.group.GroupID, uuid.New(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, added.Role)
}

func TestAddMember_CannotDemoteOwnerOrAdmins(t *testing.T) {
	f := newGroupFixture(t, "basic")
	ctx := context.Background()
	admin := f.join(t, domain.RoleAdmin)
	otherAdmin := f.join(t, domain.RoleAdmin)
	member := f.join(t, domain.RoleMember)

	_, err := f.service.AddMember(ctx, admin, "basic", f.group.GroupID, f.owner, domain.RoleMember)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeForbidden))

	_, err = f.service.AddMember(ctx, f.owner, "basic", f.group.GroupID, f.owner, domain.RoleMember)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeForbidden))

	_, err = f.service.CreateChannel(ctx, f.owner, "basic", f.group.GroupID, "still-in-charge")
	require.NoError(t, err)

	_, err = f.service.AddMember(ctx, admin, "basic", f.group.GroupID, otherAdmin, domain.RoleMember)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeRoleRequired))

	readded, err := f.service.AddMember(ctx, admin, "basic", f.group.GroupID, member, domain.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, readded.Role)

	demoted, err := f.service.AddMember(ctx, f.owner, "basic", f.group.GroupID, otherAdmin, domain.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, demoted.Role)
	_, err = f.service.CreateChannel(ctx, otherAdmin, "basic", f.group.GroupID, "nope")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeRoleRequired))
}

func TestChannels(t *testing.T) {
	f := newGroupFixture(t, "basic")
	ctx := context.Background()
	member := f.join(t, domain.RoleMember)

	_, err := f.service.CreateChannel(ctx, member, "basic", f.group.GroupID, "random")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeRoleRequired))

	random, err := f.service.CreateChannel(ctx, f.owner, "basic", f.group.GroupID, "random")
	require.NoError(t, err)

	channels, err := f.service.ListChannels(ctx, member, "basic", f.group.GroupID)
	require.NoError(t, err)
	assert.Len(t, channels, 2)

	err = f.service.DeleteChannel(ctx, f.owner, "basic", f.group.GroupID, f.channel.ChannelID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeDefaultChannel))

	require.NoError(t, f.service.DeleteChannel(ctx, f.owner, "basic", f.group.GroupID, random.ChannelID))
	err = f.service.DeleteChannel(ctx, f.owner, "basic", f.group.GroupID, random.ChannelID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFound))
}

func TestPinAndUnpin(t *testing.T) {
	f := newGroupFixture(t, "love")
	ctx := context.Background()
	member := f.join(t, domain.RoleMember)
	msg := f.post(t, member, "trail map attached")

	_, err := f.service.Pin(ctx, member, msg.MessageID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeRoleRequired))

	pinned, err := f.service.Pin(ctx, f.owner, msg.MessageID)
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)
	assert.Equal(t, "trail map attached", pinned.Body)
	require.NotNil(t, pinned.PinnedBy)
	assert.Equal(t, f.owner, *pinned.PinnedBy)

	unpinned, err := f.service.Unpin(ctx, f.owner, msg.MessageID)
	require.NoError(t, err)
	assert.False(t, unpinned.IsPinned)
	assert.Nil(t, unpinned.PinnedAt)

	_, err = f.service.Pin(ctx, f.owner, uuid.New())
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeMessageNotFound))
}

func TestPin_DirectMessagesRejected(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)
	out := h.send(t, alice, bob, "basic", "pin me")

	_, err := h.service.Pin(context.Background(), alice, out.Message.MessageID)

	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))
}

func TestDeleteMessage_GroupModerators(t *testing.T) {
	f := newGroupFixture(t, "basic")
	ctx := context.Background()
	author := f.join(t, domain.RoleMember)
	other := f.join(t, domain.RoleMember)
	first := f.post(t, author, "first")
	second := f.post(t, author, "second")

	err := f.service.DeleteMessage(ctx, other, f.in(), first.MessageID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeRoleRequired))

	require.NoError(t, f.service.DeleteMessage(ctx, f.owner, f.in(), first.MessageID))
	require.NoError(t, f.service.DeleteMessage(ctx, author, f.in(), second.MessageID))
	assert.Empty(t, f.store.messages)
}

func TestMarkRead_GroupUpdatesReceipt(t *testing.T) {
	f := newGroupFixture(t, "basic")
	member := f.join(t, domain.RoleMember)
	f.post(t, f.owner, "hello")

	data, err := f.service.MarkRead(context.Background(), member, f.in())

	require.NoError(t, err)
	receipt := f.store.receipts[channelKey{domain.UniverseBasic, member, f.channel.ChannelID}]
	require.NotNil(t, receipt)
	assert.Equal(t, data.ReadAt, receipt.ReadAt)
}

func TestListMessages_GroupFloorsAtChannelCreation(t *testing.T) {
	f := newGroupFixture(t, "basic")
	f.post(t, f.owner, "one")
	f.post(t, f.owner, "two")

	messages, err := f.service.ListMessages(context.Background(), f.owner, f.in(), 10)

	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0].Body)
}

func TestSendPoll(t *testing.T) {
	f := newGroupFixture(t, "basic")
	ctx := context.Background()
	in := f.in()
	base := SendPollInput{SenderID: f.owner, Universe: in.Universe, GroupID: in.GroupID, ChannelID: in.ChannelID, Question: "Where to?"}

	cases := []struct {
		name    string
		options []string
		expires *time.Time
	}{
		{name: "single option", options: []string{"Lake"}},
		{name: "duplicate options", options: []string{"Lake", " lake "}},
		{name: "blank option", options: []string{"Lake", "  "}},
		{name: "expired", options: []string{"Lake", "Ridge"}, expires: &time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := base
			input.Options = tc.options
			input.ExpiresAt = tc.expires
			_, err := f.service.SendPoll(ctx, &input)
			assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))
		})
	}

	input := base
	input.Options = []string{" Lake", "Ridge "}
	msg, err := f.service.SendPoll(ctx, &input)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypePoll, msg.MessageType)
	require.NotNil(t, msg.Poll)
	assert.Equal(t, []string{"Lake", "Ridge"}, msg.Poll.Options)
}

func TestModerationLog(t *testing.T) {
	f := newGroupFixture(t, "business")
	ctx := context.Background()
	universe := f.group.Universe.String()
	admin := f.join(t, domain.RoleAdmin)
	member := f.join(t, domain.RoleMember)

	msg := f.post(t, member, "spam")
	_, err := f.service.Pin(ctx, admin, msg.MessageID)
	require.NoError(t, err)
	require.NoError(t, f.service.DeleteMessage(ctx, admin, f.in(), msg.MessageID))
	require.NoError(t, f.service.BanMember(ctx, admin, universe, f.group.GroupID, member, "  spam "))

	entries, err := f.service.ModerationLog(ctx, f.owner, universe, f.group.GroupID, 0)
	require.NoError(t, err)

	actions := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []audit.Action{
		audit.ActionMemberBan,
		audit.ActionMessageDelete,
		audit.ActionMessagePin,
		audit.ActionMemberAdd,
		audit.ActionMemberAdd,
	}, actions)
	assert.Equal(t, "spam", entries[0].Details)
	assert.Equal(t, member, *entries[0].TargetID)
	assert.Equal(t, admin, entries[0].ActorID)

	_, err = f.service.ModerationLog(ctx, f.join(t, domain.RoleMember), universe, f.group.GroupID, 0)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeRoleRequired))
}

func TestModerationLog_OwnMessageDeleteNotAudited(t *testing.T) {
	f := newGroupFixture(t, "basic")
	member := f.join(t, domain.RoleMember)
	msg := f.post(t, member, "oops")

	require.NoError(t, f.service.DeleteMessage(context.Background(), member, f.in(), msg.MessageID))

	entries, err := f.service.ModerationLog(context.Background(), f.owner, "basic", f.group.GroupID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionMemberAdd, entries[0].Action)
}
