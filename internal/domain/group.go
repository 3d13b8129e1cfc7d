package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is a member's authority inside a group
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CanModerate reports whether the role may pin, delete others' messages and manage channels
func (r Role) CanModerate() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Group is a multi-member conversation container
// Maps to CockroachDB chat_groups_<universe>
type Group struct {
	GroupID   uuid.UUID `json:"group_id" db:"group_id"`
	Name      string    `json:"name" db:"name"`
	CreatedBy uuid.UUID `json:"created_by" db:"created_by"`
	Universe  Universe  `json:"universe" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// GroupMember is a membership row; inactive rows are kept for history and bans
type GroupMember struct {
	GroupID  uuid.UUID `json:"group_id" db:"group_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Role     Role      `json:"role" db:"role"`
	IsActive bool      `json:"is_active" db:"is_active"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// Channel is a named stream inside a group. Exactly one channel per group is the default.
type Channel struct {
	ChannelID uuid.UUID `json:"channel_id" db:"channel_id"`
	GroupID   uuid.UUID `json:"group_id" db:"group_id"`
	Name      string    `json:"name" db:"name"`
	IsDefault bool      `json:"is_default" db:"is_default"`
	Position  int       `json:"position" db:"position"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Ban records a user barred from a group
type Ban struct {
	GroupID  uuid.UUID `json:"group_id" db:"group_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	BannedBy uuid.UUID `json:"banned_by" db:"banned_by"`
	Reason   string    `json:"reason,omitempty" db:"reason"`
	BannedAt time.Time `json:"banned_at" db:"banned_at"`
}

// DefaultChannelName is the name given to the channel created with every group
const DefaultChannelName = "general"
