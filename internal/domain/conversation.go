package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// ConversationKind distinguishes direct threads from group channels
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// DirectConversation is a two-party thread, unique per sorted pair within a universe
// Maps to CockroachDB direct_conversations[_<universe>] tables
type DirectConversation struct {
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	UserLow        uuid.UUID `json:"user_low" db:"user_low"`
	UserHigh       uuid.UUID `json:"user_high" db:"user_high"`
	Universe       Universe  `json:"universe" db:"-"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Participants returns both user ids
func (c *DirectConversation) Participants() []uuid.UUID {
	return []uuid.UUID{c.UserLow, c.UserHigh}
}

// Has reports whether userID takes part in the conversation
func (c *DirectConversation) Has(userID uuid.UUID) bool {
	return c.UserLow == userID || c.UserHigh == userID
}

// Other returns the participant that is not userID
func (c *DirectConversation) Other(userID uuid.UUID) uuid.UUID {
	if c.UserLow == userID {
		return c.UserHigh
	}
	return c.UserLow
}

// SortPair orders two ids so an unordered pair has one canonical key
func SortPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// ConversationRef addresses a message container: a direct conversation, or a group channel
type ConversationRef struct {
	Kind           ConversationKind `json:"kind"`
	Universe       Universe         `json:"universe"`
	ConversationID uuid.UUID        `json:"conversation_id,omitempty"` // direct
	GroupID        uuid.UUID        `json:"group_id,omitempty"`        // group
	ChannelID      uuid.UUID        `json:"channel_id,omitempty"`      // group
}

// ContainerID is the partition key for the message table
func (r ConversationRef) ContainerID() uuid.UUID {
	if r.Kind == KindGroup {
		return r.ChannelID
	}
	return r.ConversationID
}

// MessageTable returns the universe-specific message table for the ref
func (r ConversationRef) MessageTable() string {
	if r.Kind == KindGroup {
		return r.Universe.Table(TableGroupMessages)
	}
	return r.Universe.Table(TableDirectMessages)
}

// ConversationSummary is one row of a user's conversation list
type ConversationSummary struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	Universe       Universe   `json:"universe"`
	PartnerID      uuid.UUID  `json:"partner_id"`
	PartnerName    string     `json:"partner_name"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
