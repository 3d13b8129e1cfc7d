package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/service/call"
	"rendezvous-backend/internal/service/conversation"
	"rendezvous-backend/pkg/audit"
	appErrors "rendezvous-backend/pkg/errors"
)

type MockConversationService struct {
	mock.Mock
}

func (m *MockConversationService) FindOrCreateDirectConversation(ctx context.Context, a, b uuid.UUID, universe string) (*domain.DirectConversation, bool, error) {
	args := m.Called(ctx, a, b, universe)
	conv, _ := args.Get(0).(*domain.DirectConversation)
	return conv, args.Bool(1), args.Error(2)
}

func (m *MockConversationService) SendDirectMessage(ctx context.Context, input *conversation.SendDirectMessageInput) (*conversation.SendDirectMessageOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*conversation.SendDirectMessageOutput)
	return out, args.Error(1)
}

func (m *MockConversationService) HideConversation(ctx context.Context, userID, otherID uuid.UUID, universe string) error {
	return m.Called(ctx, userID, otherID, universe).Error(0)
}

func (m *MockConversationService) ListConversations(ctx context.Context, userID uuid.UUID, universe string) ([]*domain.ConversationSummary, error) {
	args := m.Called(ctx, userID, universe)
	out, _ := args.Get(0).([]*domain.ConversationSummary)
	return out, args.Error(1)
}

func (m *MockConversationService) SendGroupMessage(ctx context.Context, input *conversation.SendGroupMessageInput) (*domain.Message, error) {
	args := m.Called(ctx, input)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *MockConversationService) SendPoll(ctx context.Context, input *conversation.SendPollInput) (*domain.Message, error) {
	args := m.Called(ctx, input)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *MockConversationService) CreateGroup(ctx context.Context, creatorID uuid.UUID, universe, name string) (*conversation.CreateGroupOutput, error) {
	args := m.Called(ctx, creatorID, universe, name)
	out, _ := args.Get(0).(*conversation.CreateGroupOutput)
	return out, args.Error(1)
}

func (m *MockConversationService) ListChannels(ctx context.Context, actorID uuid.UUID, universe string, groupID uuid.UUID) ([]*domain.Channel, error) {
	args := m.Called(ctx, actorID, universe, groupID)
	out, _ := args.Get(0).([]*domain.Channel)
	return out, args.Error(1)
}

func (m *MockConversationService) CreateChannel(ctx context.Context, actorID uuid.UUID, universe string, groupID uuid.UUID, name string) (*domain.Channel, error) {
	args := m.Called(ctx, actorID, universe, groupID, name)
	out, _ := args.Get(0).(*domain.Channel)
	return out, args.Error(1)
}

func (m *MockConversationService) DeleteChannel(ctx context.Context, actorID uuid.UUID, universe string, groupID, channelID uuid.UUID) error {
	return m.Called(ctx, actorID, universe, groupID, channelID).Error(0)
}

func (m *MockConversationService) AddMember(ctx context.Context, actorID uuid.UUID, universe string, groupID, userID uuid.UUID, role domain.Role) (*domain.GroupMember, error) {
	args := m.Called(ctx, actorID, universe, groupID, userID, role)
	out, _ := args.Get(0).(*domain.GroupMember)
	return out, args.Error(1)
}

func (m *MockConversationService) BanMember(ctx context.Context, actorID uuid.UUID, universe string, groupID, userID uuid.UUID, reason string) error {
	return m.Called(ctx, actorID, universe, groupID, userID, reason).Error(0)
}

func (m *MockConversationService) ModerationLog(ctx context.Context, actorID uuid.UUID, universe string, groupID uuid.UUID, limit int) ([]*audit.Entry, error) {
	args := m.Called(ctx, actorID, universe, groupID, limit)
	out, _ := args.Get(0).([]*audit.Entry)
	return out, args.Error(1)
}

func (m *MockConversationService) ListMessages(ctx context.Context, actorID uuid.UUID, in conversation.RefInput, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, actorID, in, limit)
	out, _ := args.Get(0).([]*domain.Message)
	return out, args.Error(1)
}

func (m *MockConversationService) DeleteMessage(ctx context.Context, actorID uuid.UUID, in conversation.RefInput, messageID uuid.UUID) error {
	return m.Called(ctx, actorID, in, messageID).Error(0)
}

func (m *MockConversationService) Pin(ctx context.Context, actorID, messageID uuid.UUID) (*domain.Message, error) {
	args := m.Called(ctx, actorID, messageID)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *MockConversationService) Unpin(ctx context.Context, actorID, messageID uuid.UUID) (*domain.Message, error) {
	args := m.Called(ctx, actorID, messageID)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *MockConversationService) MarkRead(ctx context.Context, readerID uuid.UUID, in conversation.RefInput) (*domain.MessageReadData, error) {
	args := m.Called(ctx, readerID, in)
	out, _ := args.Get(0).(*domain.MessageReadData)
	return out, args.Error(1)
}

func (m *MockConversationService) NotifyTyping(ctx context.Context, userID uuid.UUID, in conversation.RefInput, started bool) error {
	return m.Called(ctx, userID, in, started).Error(0)
}

type MockPresenceService struct {
	mock.Mock
}

func (m *MockPresenceService) UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, message *string) (*domain.StatusChangeData, error) {
	args := m.Called(ctx, userID, status, message)
	out, _ := args.Get(0).(*domain.StatusChangeData)
	return out, args.Error(1)
}

type MockCallService struct {
	mock.Mock
}

func (m *MockCallService) Ring(ctx context.Context, input *call.RingInput) (*domain.Call, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*domain.Call)
	return out, args.Error(1)
}

func (m *MockCallService) UpdateStatus(ctx context.Context, input *call.UpdateStatusInput) (*domain.Call, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*domain.Call)
	return out, args.Error(1)
}

type testRouter struct {
	router        *gin.Engine
	user          uuid.UUID
	conversations *MockConversationService
	presence      *MockPresenceService
	calls         *MockCallService
}

func newTestRouter(t *testing.T) *testRouter {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tr := &testRouter{
		router:        gin.New(),
		user:          uuid.New(),
		conversations: new(MockConversationService),
		presence:      new(MockPresenceService),
		calls:         new(MockCallService),
	}
	tr.router.Use(func(c *gin.Context) {
		c.Set("identity", &domain.Identity{UserID: tr.user})
		c.Next()
	})
	NewHandler(tr.conversations, tr.presence, tr.calls).RegisterRoutes(tr.router.Group("/v1"), nil)
	return tr
}

func (tr *testRouter) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	tr.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	return resp.Error.Code
}

func TestSendDirectMessage(t *testing.T) {
	tr := newTestRouter(t)
	receiver := uuid.New()

	tr.conversations.On("SendDirectMessage", mock.Anything, mock.MatchedBy(func(in *conversation.SendDirectMessageInput) bool {
		return in.SenderID == tr.user && in.ReceiverID == receiver && in.Universe == "love" && in.Body == "hi"
	})).Return(&conversation.SendDirectMessageOutput{
		Message: &domain.Message{MessageID: uuid.New(), Body: "hi"},
		Created: true,
	}, nil)

	w := tr.do(http.MethodPost, "/v1/messages", `{"receiver_id":"`+receiver.String()+`","universe":"love","body":"hi"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	tr.conversations.AssertExpectations(t)
}

func TestSendDirectMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not friends", appErrors.NotFriendsError("love"), http.StatusForbidden, string(appErrors.ErrCodeNotFriends)},
		{"empty body", appErrors.EmptyBodyError(), http.StatusBadRequest, string(appErrors.ErrCodeEmptyBody)},
		{"storage failure", assert.AnError, http.StatusInternalServerError, string(appErrors.ErrCodeInternal)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestRouter(t)
			tr.conversations.On("SendDirectMessage", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := tr.do(http.MethodPost, "/v1/messages", `{"receiver_id":"`+uuid.NewString()+`","body":"x"}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w))
		})
	}
}

func TestSendDirectMessage_BadJSON(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodPost, "/v1/messages", `{"body":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	tr.conversations.AssertNotCalled(t, "SendDirectMessage", mock.Anything, mock.Anything)
}

func TestCreateConversation_StatusReflectsCreation(t *testing.T) {
	tr := newTestRouter(t)
	other := uuid.New()
	conv := &domain.DirectConversation{ConversationID: uuid.New()}

	tr.conversations.On("FindOrCreateDirectConversation", mock.Anything, tr.user, other, "business").Return(conv, true, nil).Once()
	tr.conversations.On("FindOrCreateDirectConversation", mock.Anything, tr.user, other, "business").Return(conv, false, nil).Once()

	body := `{"user_id":"` + other.String() + `","universe":"business"}`
	assert.Equal(t, http.StatusCreated, tr.do(http.MethodPost, "/v1/conversations", body).Code)
	assert.Equal(t, http.StatusOK, tr.do(http.MethodPost, "/v1/conversations", body).Code)
}

func TestListMessages_ParsesRefFromQuery(t *testing.T) {
	tr := newTestRouter(t)
	groupID, channelID := uuid.New(), uuid.New()
	want := conversation.RefInput{Kind: domain.KindGroup, Universe: "basic", GroupID: groupID, ChannelID: channelID}

	tr.conversations.On("ListMessages", mock.Anything, tr.user, want, 20).Return([]*domain.Message{}, nil)

	w := tr.do(http.MethodGet, "/v1/messages?kind=group&universe=basic&group_id="+groupID.String()+"&channel_id="+channelID.String()+"&limit=20", "")

	assert.Equal(t, http.StatusOK, w.Code)
	tr.conversations.AssertExpectations(t)
}

func TestListMessages_InvalidQuery(t *testing.T) {
	tr := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, tr.do(http.MethodGet, "/v1/messages?conversation_id=nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, tr.do(http.MethodGet, "/v1/messages?limit=ten", "").Code)
	tr.conversations.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMessage(t *testing.T) {
	tr := newTestRouter(t)
	convID, msgID := uuid.New(), uuid.New()
	ref := conversation.RefInput{Kind: domain.KindDirect, Universe: "love", ConversationID: convID}

	tr.conversations.On("DeleteMessage", mock.Anything, tr.user, ref, msgID).Return(appErrors.ForbiddenError("not the sender")).Once()

	w := tr.do(http.MethodDelete, "/v1/messages/"+msgID.String()+"?universe=love&conversation_id="+convID.String(), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = tr.do(http.MethodDelete, "/v1/messages/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPinAndUnpin(t *testing.T) {
	tr := newTestRouter(t)
	msgID := uuid.New()

	tr.conversations.On("Pin", mock.Anything, tr.user, msgID).Return(&domain.Message{MessageID: msgID, IsPinned: true}, nil)
	tr.conversations.On("Unpin", mock.Anything, tr.user, msgID).Return(nil, appErrors.MessageNotFoundError())

	assert.Equal(t, http.StatusOK, tr.do(http.MethodPost, "/v1/messages/"+msgID.String()+"/pin", "").Code)
	assert.Equal(t, http.StatusNotFound, tr.do(http.MethodDelete, "/v1/messages/"+msgID.String()+"/pin", "").Code)
}

func TestTyping(t *testing.T) {
	tr := newTestRouter(t)
	convID := uuid.New()
	ref := conversation.RefInput{Kind: domain.KindDirect, Universe: "love", ConversationID: convID}

	tr.conversations.On("NotifyTyping", mock.Anything, tr.user, ref, true).Return(nil)

	w := tr.do(http.MethodPost, "/v1/typing", `{"kind":"direct","universe":"love","conversation_id":"`+convID.String()+`","started":true}`)

	assert.Equal(t, http.StatusNoContent, w.Code)
	tr.conversations.AssertExpectations(t)
}

func TestAddMember_DefaultsRole(t *testing.T) {
	tr := newTestRouter(t)
	groupID, member := uuid.New(), uuid.New()

	tr.conversations.On("AddMember", mock.Anything, tr.user, "basic", groupID, member, domain.RoleMember).
		Return(&domain.GroupMember{GroupID: groupID, UserID: member, Role: domain.RoleMember}, nil)

	w := tr.do(http.MethodPost, "/v1/groups/"+groupID.String()+"/members", `{"universe":"basic","user_id":"`+member.String()+`"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	tr.conversations.AssertExpectations(t)
}

func TestSendPoll(t *testing.T) {
	tr := newTestRouter(t)
	groupID, channelID := uuid.New(), uuid.New()

	tr.conversations.On("SendPoll", mock.Anything, mock.MatchedBy(func(in *conversation.SendPollInput) bool {
		return in.GroupID == groupID && in.ChannelID == channelID && len(in.Options) == 2
	})).Return(&domain.Message{MessageID: uuid.New()}, nil)

	w := tr.do(http.MethodPost, "/v1/groups/"+groupID.String()+"/channels/"+channelID.String()+"/polls",
		`{"universe":"basic","question":"Where?","options":["Peak","Lake"]}`)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	tr := newTestRouter(t)

	tr.presence.On("UpdateStatus", mock.Anything, tr.user, domain.PresenceDND, mock.Anything).
		Return(&domain.StatusChangeData{UserID: tr.user, Status: domain.PresenceDND}, nil)

	w := tr.do(http.MethodPut, "/v1/status", `{"status":"dnd"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	tr.presence.AssertExpectations(t)
}

func TestStartCall(t *testing.T) {
	tr := newTestRouter(t)
	callee := uuid.New()

	tr.calls.On("Ring", mock.Anything, mock.MatchedBy(func(in *call.RingInput) bool {
		return in.CallerID == tr.user && in.CalleeID == callee && in.Universe == domain.UniverseLove
	})).Return(&domain.Call{CallID: uuid.New(), Status: domain.CallRinging}, nil)

	w := tr.do(http.MethodPost, "/v1/calls", `{"callee_id":"`+callee.String()+`","universe":"love","call_type":"video"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = tr.do(http.MethodPost, "/v1/calls", `{"callee_id":"`+callee.String()+`","universe":"space","call_type":"video"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(appErrors.ErrCodeInvalidUniverse), decodeError(t, w))
}

func TestUpdateCall(t *testing.T) {
	tr := newTestRouter(t)
	callID := uuid.New()

	tr.calls.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(in *call.UpdateStatusInput) bool {
		return in.CallID == callID && in.ActorID == tr.user && in.Status == domain.CallAccepted
	})).Return(nil, appErrors.CallNotFoundError())

	w := tr.do(http.MethodPut, "/v1/calls/"+callID.String(), `{"status":"accepted"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(appErrors.ErrCodeCallNotFound), decodeError(t, w))
}

func TestModerationLog(t *testing.T) {
	tr := newTestRouter(t)
	groupID := uuid.New()

	tr.conversations.On("ModerationLog", mock.Anything, tr.user, "love", groupID, 25).
		Return([]*audit.Entry{{Action: audit.ActionMemberBan}}, nil)

	w := tr.do(http.MethodGet, "/v1/groups/"+groupID.String()+"/audit?universe=love&limit=25", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"member_ban"`)
}
