package domain

import (
	"time"

	"github.com/google/uuid"
)

// VisibilityState controls whether a direct conversation appears in a user's list
type VisibilityState string

const (
	VisibilityVisible VisibilityState = "visible"
	VisibilityHidden  VisibilityState = "hidden"
)

// ConversationVisibility is one user's view of a conversation with another user.
// A missing row means the pair never interacted and the conversation is not shown.
// Maps to CockroachDB conversation_visibility
type ConversationVisibility struct {
	UserID        uuid.UUID        `json:"user_id" db:"user_id"`
	OtherUserID   uuid.UUID        `json:"other_user_id" db:"other_user_id"`
	Kind          ConversationKind `json:"kind" db:"kind"`
	State         VisibilityState  `json:"state" db:"state"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty" db:"last_message_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// Shown reports whether the row puts the conversation in the user's list
func (v *ConversationVisibility) Shown() bool {
	return v != nil && v.State == VisibilityVisible
}
