package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a one-to-one call
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallAccepted  CallStatus = "accepted"
	CallRejected  CallStatus = "rejected"
	CallCancelled CallStatus = "cancelled"
	CallMissed    CallStatus = "missed"
	CallEnded     CallStatus = "ended"
)

// Terminal reports whether no further transitions are allowed
func (s CallStatus) Terminal() bool {
	switch s {
	case CallRejected, CallCancelled, CallMissed, CallEnded:
		return true
	}
	return false
}

// Call is the short-lived signaling state of a call. Payload is opaque to the server.
// Kept in Redis under call:<id>
type Call struct {
	CallID    uuid.UUID       `json:"call_id"`
	CallerID  uuid.UUID       `json:"caller_id"`
	CalleeID  uuid.UUID       `json:"callee_id"`
	Universe  Universe        `json:"universe"`
	CallType  string          `json:"call_type"` // audio, video
	Status    CallStatus      `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Has reports whether userID is caller or callee
func (c *Call) Has(userID uuid.UUID) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// OtherParty returns the participant that is not userID
func (c *Call) OtherParty(userID uuid.UUID) uuid.UUID {
	if c.CallerID == userID {
		return c.CalleeID
	}
	return c.CallerID
}
