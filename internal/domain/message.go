package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	MessageTypeText MessageType = "text"
	MessageTypePoll MessageType = "poll"
)

// MessageType tags how a client should render a message
type MessageType string

// Message is a stored chat message. Body is only ever held in memory; storage
// sees Ciphertext. Exactly one universe partition holds a given message.
// Maps to Cassandra direct_messages[_<universe>] / group_messages_<universe>
type Message struct {
	MessageID   uuid.UUID        `json:"message_id"`
	Universe    Universe         `json:"universe"`
	Kind        ConversationKind `json:"kind"`
	ContainerID uuid.UUID        `json:"conversation_id"` // direct conversation id or channel id
	GroupID     uuid.UUID        `json:"group_id,omitempty"`
	SenderID    uuid.UUID        `json:"sender_id"`
	SenderName  string           `json:"sender_name,omitempty"`
	Body        string           `json:"body"`
	Ciphertext  string           `json:"-"`
	MessageType MessageType      `json:"message_type"`
	ReplyTo     *ReplyRef        `json:"reply_to,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Poll        *PollPayload     `json:"poll,omitempty"`
	IsRead      bool             `json:"is_read"`
	IsPinned    bool             `json:"is_pinned"`
	PinnedBy    *uuid.UUID       `json:"pinned_by,omitempty"`
	PinnedAt    *time.Time       `json:"pinned_at,omitempty"`
	Bucket      int              `json:"-"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Ref returns the container address of the message
func (m *Message) Ref() ConversationRef {
	ref := ConversationRef{Kind: m.Kind, Universe: m.Universe}
	if m.Kind == KindGroup {
		ref.GroupID = m.GroupID
		ref.ChannelID = m.ContainerID
	} else {
		ref.ConversationID = m.ContainerID
	}
	return ref
}

// ReplyRef points at the message being answered, with a cached preview of its body
type ReplyRef struct {
	MessageID uuid.UUID `json:"message_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Preview   string    `json:"preview"`
}

// ReplyPreviewLength bounds the cached preview
const ReplyPreviewLength = 120

// Attachment is metadata for a file stored elsewhere
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// PollPayload is the structured body of a poll message
type PollPayload struct {
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// MessageLocator is stamped at insert time so later operations find the owning
// partition without scanning every universe.
// Maps to Cassandra message_locator
type MessageLocator struct {
	MessageID   uuid.UUID
	Universe    Universe
	Kind        ConversationKind
	ContainerID uuid.UUID
	GroupID     uuid.UUID
	SenderID    uuid.UUID
	Bucket      int
	CreatedAt   time.Time
}

// Ref returns the container address recorded in the locator
func (l *MessageLocator) Ref() ConversationRef {
	m := Message{Kind: l.Kind, Universe: l.Universe, ContainerID: l.ContainerID, GroupID: l.GroupID}
	return m.Ref()
}

// CalculateBucket returns the month partition (yyyymm) for t
func CalculateBucket(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}

// PreviousBucket returns the month partition before bucket
func PreviousBucket(bucket int) int {
	year, month := bucket/100, bucket%100
	if month == 1 {
		return (year-1)*100 + 12
	}
	return year*100 + month - 1
}

// ReadReceipt records how far a member has read a group channel
type ReadReceipt struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
