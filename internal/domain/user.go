package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is the user-controlled availability flag
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceDND     PresenceStatus = "dnd"
	PresenceOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the known presence values
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceDND, PresenceOffline:
		return true
	}
	return false
}

// User represents the account row shared by every universe
// Maps to CockroachDB users table
type User struct {
	UserID        uuid.UUID      `json:"user_id" db:"user_id"`
	Username      string         `json:"username" db:"username"`
	DisplayName   string         `json:"display_name" db:"display_name"`
	Status        PresenceStatus `json:"status" db:"status"`
	StatusMessage *string        `json:"status_message,omitempty" db:"status_message"`
	LastSeen      *time.Time     `json:"last_seen,omitempty" db:"last_seen"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// Identity is what the session resolver hands to the rest of the core
type Identity struct {
	UserID      uuid.UUID `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
}

// UnknownSenderName is shown when a sender has no profile in the message's universe
const UnknownSenderName = "Unknown user"
