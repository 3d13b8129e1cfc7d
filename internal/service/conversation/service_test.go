package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/pkg/cipher"
	appErrors "rendezvous-backend/pkg/errors"
)

type harness struct {
	service    *Service
	store      *memoryStore
	visibility *memoryVisibility
	events     *capturePublisher
	audit      *memoryAudit
	codec      *cipher.Codec
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	codec, err := cipher.New("conversation-test-secret")
	require.NoError(t, err)

	store := newMemoryStore()
	vis := newMemoryVisibility()
	store.visibility = vis
	pub := &capturePublisher{}
	trail := &memoryAudit{}
	svc := NewService(Dependencies{
		Conversations: store,
		Messages:      store,
		Groups:        store,
		Friendships:   store,
		Profiles:      store,
		Visibility:    vis,
		Cipher:        codec,
		Publisher:     pub,
		Audit:         trail,
	})

	clock := time.Now().UTC()
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &harness{service: svc, store: store, visibility: vis, events: pub, audit: trail, codec: codec}
}

func (h *harness) send(t *testing.T, from, to uuid.UUID, universe, body string) *SendDirectMessageOutput {
	t.Helper()
	out, err := h.service.SendDirectMessage(context.Background(), &SendDirectMessageInput{
		SenderID: from, ReceiverID: to, Universe: universe, Body: body,
	})
	require.NoError(t, err)
	return out
}

func directIn(universe string, id uuid.UUID) RefInput {
	return RefInput{Kind: domain.KindDirect, Universe: universe, ConversationID: id}
}

func TestSendDirectMessage_RequiresFriendship(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()

	_, err := h.service.SendDirectMessage(context.Background(), &SendDirectMessageInput{
		SenderID: alice, ReceiverID: bob, Universe: "basic", Body: "hi",
	})

	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFriends))
	assert.Empty(t, h.store.messages)
	assert.Empty(t, h.store.conversations)
	assert.Empty(t, h.events.types())
}

func TestSendDirectMessage_LegacyPathIsGatedToo(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)

	_, err := h.service.SendDirectMessage(context.Background(), &SendDirectMessageInput{
		SenderID: alice, ReceiverID: bob, Universe: "legacy", Body: "hi",
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFriends))

	h.store.befriend(domain.UniverseLegacy, alice, bob)
	out := h.send(t, alice, bob, "legacy", "hi")
	assert.Equal(t, domain.UniverseLegacy, out.Message.Universe)
}

func TestSendDirectMessage_ValidatesBeforeStoreAccess(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()

	_, err := h.service.SendDirectMessage(context.Background(), &SendDirectMessageInput{SenderID: alice, ReceiverID: bob, Universe: "basic", Body: "   \n\t"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeEmptyBody))

	_, err = h.service.SendDirectMessage(context.Background(), &SendDirectMessageInput{SenderID: alice, ReceiverID: bob, Universe: "dating", Body: "hi"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeInvalidUniverse))

	assert.Zero(t, h.store.calls)
}

func TestSendDirectMessage_CreatesConversationOnce(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)

	first := h.send(t, alice, bob, "", "hello")
	second := h.send(t, bob, alice, "basic", "hey")

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ConversationID, second.Conversation.ConversationID)
	assert.Equal(t, []domain.EventKind{
		domain.EventNewConversation,
		domain.EventNewMessage,
		domain.EventNewMessage,
	}, h.events.types())
}

func TestSendDirectMessage_EncryptsAtRestAndEchoesPlaintext(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseLove, alice, bob)
	h.store.setProfile(domain.UniverseLove, alice, "Ally")

	out := h.send(t, alice, bob, "love", "meet at eight")

	assert.Equal(t, "meet at eight", out.Message.Body)
	assert.Equal(t, "Ally", out.Message.SenderName)

	stored := h.store.stored(out.Message.MessageID)
	require.NotNil(t, stored)
	assert.Empty(t, stored.Body)
	assert.NotContains(t, stored.Ciphertext, "meet at eight")
	assert.Equal(t, "meet at eight", h.codec.Decrypt(stored.Ciphertext))
}

func TestSendDirectMessage_ResetsVisibilityForBoth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)

	h.send(t, alice, bob, "basic", "one")
	require.NoError(t, h.service.HideConversation(ctx, alice, bob, "basic"))

	list, err := h.service.ListConversations(ctx, alice, "basic")
	require.NoError(t, err)
	assert.Empty(t, list)

	bobList, err := h.service.ListConversations(ctx, bob, "basic")
	require.NoError(t, err)
	assert.Len(t, bobList, 1)

	h.send(t, bob, alice, "basic", "two")

	list, err = h.service.ListConversations(ctx, alice, "basic")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, bob, list[0].PartnerID)
	assert.NotNil(t, list[0].LastMessageAt)
}

func TestListConversations_HiddenDoNotConsumeLimit(t *testing.T) {
	h := newHarness(t)
	h.service.listLimit = 1
	ctx := context.Background()
	alice, carol, bob, dave := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	for _, friend := range []uuid.UUID{carol, bob, dave} {
		h.store.befriend(domain.UniverseBasic, alice, friend)
		h.send(t, friend, alice, "basic", "hey")
	}

	require.NoError(t, h.service.HideConversation(ctx, alice, bob, "basic"))
	require.NoError(t, h.service.HideConversation(ctx, alice, dave, "basic"))

	list, err := h.service.ListConversations(ctx, alice, "basic")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, carol, list[0].PartnerID)
}

func TestUniverseIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseLove, alice, bob)

	out := h.send(t, alice, bob, "love", "only in love")

	_, err := h.service.ListMessages(ctx, alice, directIn("basic", out.Conversation.ConversationID), 0)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFound))

	_, err = h.service.SendDirectMessage(ctx, &SendDirectMessageInput{SenderID: alice, ReceiverID: bob, Universe: "business", Body: "hi"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFriends))

	basic, err := h.service.ListConversations(ctx, alice, "basic")
	require.NoError(t, err)
	assert.Empty(t, basic)
}

func TestFindOrCreateDirectConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	first, created, err := h.service.FindOrCreateDirectConversation(ctx, alice, bob, "business")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := h.service.FindOrCreateDirectConversation(ctx, bob, alice, "business")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	other, _, err := h.service.FindOrCreateDirectConversation(ctx, alice, bob, "love")
	require.NoError(t, err)
	assert.NotEqual(t, first.ConversationID, other.ConversationID)

	_, _, err = h.service.FindOrCreateDirectConversation(ctx, alice, alice, "basic")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))

	// Creating a conversation does not show it
	list, err := h.service.ListConversations(ctx, alice, "business")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListMessages_NewestLimitOldestFirst(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)

	var convID uuid.UUID
	for i := 0; i < 5; i++ {
		convID = h.send(t, alice, bob, "basic", fmt.Sprintf("m%d", i)).Conversation.ConversationID
	}

	messages, err := h.service.ListMessages(context.Background(), bob, directIn("basic", convID), 3)

	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "m2", messages[0].Body)
	assert.Equal(t, "m4", messages[2].Body)
	for _, m := range messages {
		assert.Equal(t, domain.UnknownSenderName, m.SenderName)
	}
}

func TestListMessages_UndecryptableBodyStillRenders(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)
	out := h.send(t, alice, bob, "basic", "fine")
	h.store.stored(out.Message.MessageID).Ciphertext = "corrupted!!"

	messages, err := h.service.ListMessages(context.Background(), alice, directIn("basic", out.Conversation.ConversationID), 0)

	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, cipher.UndecryptablePlaceholder, messages[0].Body)
}

func TestListMessages_OutsiderRejected(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)
	out := h.send(t, alice, bob, "basic", "private")

	_, err := h.service.ListMessages(context.Background(), uuid.New(), directIn("basic", out.Conversation.ConversationID), 0)

	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotParticipant))
}

func TestReply_MustTargetSameConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)
	h.store.befriend(domain.UniverseBasic, alice, carol)

	withBob := h.send(t, alice, bob, "basic", "a long question for bob")
	withCarol := h.send(t, alice, carol, "basic", "for carol")

	reply, err := h.service.SendDirectMessage(ctx, &SendDirectMessageInput{
		SenderID: bob, ReceiverID: alice, Universe: "basic", Body: "answer", ReplyTo: &withBob.Message.MessageID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.Message.ReplyTo)
	assert.Equal(t, "a long question for bob", reply.Message.ReplyTo.Preview)
	assert.Equal(t, alice, reply.Message.ReplyTo.SenderID)

	_, err = h.service.SendDirectMessage(ctx, &SendDirectMessageInput{
		SenderID: bob, ReceiverID: alice, Universe: "basic", Body: "sneaky", ReplyTo: &withCarol.Message.MessageID,
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeInvalidReply))
}

func TestDeleteMessage_DirectIsSenderOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)
	out := h.send(t, alice, bob, "basic", "oops")
	in := directIn("basic", out.Conversation.ConversationID)

	err := h.service.DeleteMessage(ctx, bob, in, out.Message.MessageID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeForbidden))

	require.NoError(t, h.service.DeleteMessage(ctx, alice, in, out.Message.MessageID))
	assert.Nil(t, h.store.stored(out.Message.MessageID))

	err = h.service.DeleteMessage(ctx, alice, in, out.Message.MessageID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeMessageNotFound))
}

func TestMarkRead_DirectMarksPartnerMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)
	fromAlice := h.send(t, alice, bob, "basic", "ping")
	fromBob := h.send(t, bob, alice, "basic", "pong")

	data, err := h.service.MarkRead(ctx, bob, directIn("basic", fromAlice.Conversation.ConversationID))

	require.NoError(t, err)
	assert.Equal(t, bob, data.ReaderID)
	assert.True(t, h.store.stored(fromAlice.Message.MessageID).IsRead)
	assert.False(t, h.store.stored(fromBob.Message.MessageID).IsRead)

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, domain.EventMessageRead, last.Type)
	assert.Equal(t, fromAlice.Conversation.ConversationID, last.Ref.ConversationID)
}

func TestNotifyTyping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	h.store.befriend(domain.UniverseBasic, alice, bob)
	out := h.send(t, alice, bob, "basic", "hi")
	in := directIn("basic", out.Conversation.ConversationID)

	require.NoError(t, h.service.NotifyTyping(ctx, bob, in, true))
	require.NoError(t, h.service.NotifyTyping(ctx, bob, in, false))
	err := h.service.NotifyTyping(ctx, uuid.New(), in, true)

	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotParticipant))
	types := h.events.types()
	assert.Equal(t, []domain.EventKind{domain.EventTypingStart, domain.EventTypingStop}, types[len(types)-2:])
}

func TestRefInput_Resolve(t *testing.T) {
	_, err := RefInput{Kind: domain.KindGroup, Universe: "legacy", GroupID: uuid.New(), ChannelID: uuid.New()}.resolve()
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeInvalidUniverse))

	_, err = RefInput{Kind: domain.KindDirect, Universe: "basic"}.resolve()
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeMissingField))

	_, err = RefInput{Kind: "broadcast", Universe: "basic"}.resolve()
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))

	ref, err := RefInput{Kind: domain.KindDirect, Universe: "", ConversationID: uuid.New()}.resolve()
	require.NoError(t, err)
	assert.Equal(t, domain.UniverseBasic, ref.Universe)
}
