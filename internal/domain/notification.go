package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the type tag of a push channel frame
type EventKind string

const (
	EventConnectionEstablished EventKind = "CONNECTION_ESTABLISHED"
	EventNewMessage            EventKind = "NEW_MESSAGE"
	EventNewConversation       EventKind = "NEW_CONVERSATION"
	EventMessageRead           EventKind = "MESSAGE_READ"
	EventTypingStart           EventKind = "TYPING_START"
	EventTypingStop            EventKind = "TYPING_STOP"
	EventStatusChange          EventKind = "STATUS_CHANGE"
	EventIncomingCall          EventKind = "INCOMING_CALL"
	EventCallStatusUpdate      EventKind = "CALL_STATUS_UPDATE"
)

// Event is a notification computed at dispatch time and never persisted.
// Only Type and Data are serialized; the rest tells the dispatcher who to reach.
type Event struct {
	Type EventKind `json:"type"`
	Data any       `json:"data"`

	// Actor is the user whose action produced the event
	Actor uuid.UUID `json:"-"`
	// Ref addresses the conversation for message, read and typing events
	Ref *ConversationRef `json:"-"`
	// Target is the single recipient of call events
	Target uuid.UUID `json:"-"`
}

// ConnectionEstablishedData is the first frame on every push connection
type ConnectionEstablishedData struct {
	UserID      uuid.UUID `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewConversationData announces the first message between two users in a universe
type NewConversationData struct {
	Conversation *DirectConversation `json:"conversation"`
	InitiatorID  uuid.UUID           `json:"initiator_id"`
}

// MessageReadData announces a read receipt
type MessageReadData struct {
	Ref      ConversationRef `json:"conversation"`
	ReaderID uuid.UUID       `json:"reader_id"`
	ReadAt   time.Time       `json:"read_at"`
}

// TypingData announces a typing indicator change
type TypingData struct {
	Ref    ConversationRef `json:"conversation"`
	UserID uuid.UUID       `json:"user_id"`
}

// StatusChangeData announces a presence change
type StatusChangeData struct {
	UserID        uuid.UUID      `json:"user_id"`
	Status        PresenceStatus `json:"status"`
	StatusMessage *string        `json:"status_message,omitempty"`
	LastSeen      *time.Time     `json:"last_seen,omitempty"`
}
