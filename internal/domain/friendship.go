package domain

import (
	"time"

	"github.com/google/uuid"
)

// FriendshipStatus is the state of a friend request
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
)

// Friendship is a request row; once accepted it is symmetric and either order matches
// Maps to CockroachDB friendships[_<universe>]
type Friendship struct {
	RequesterID uuid.UUID        `json:"requester_id" db:"requester_id"`
	TargetID    uuid.UUID        `json:"target_id" db:"target_id"`
	Status      FriendshipStatus `json:"status" db:"status"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}
