// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// KeepAliveInterval is how often an idle push connection gets a ping frame
	KeepAliveInterval = 30 * time.Second

	// WebSocketPongWait is how long a WebSocket client may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single frame write
	WebSocketWriteWait = 10 * time.Second

	// PushConnectionBuffer is how many frames a push connection queues before it is dropped
	PushConnectionBuffer = 64

	// GracefulShutdownTimeout is the maximum time to wait for graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// DispatcherDrainTimeout bounds how long Stop waits for queued events
	DispatcherDrainTimeout = 5 * time.Second
)

// Session constants
const (
	// SessionTokenExpiry is the lifetime of tokens minted by tooling
	SessionTokenExpiry = 15 * time.Minute

	// SessionCacheTTL is how long a resolved identity is reused without re-validation
	SessionCacheTTL = 30 * time.Second
)

// Presence constants
const (
	// PresenceTTL is how long an online marker survives without a refresh
	PresenceTTL = 5 * time.Minute

	// PresenceRefreshInterval is how often a live connection refreshes its marker
	PresenceRefreshInterval = 2 * time.Minute
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days

	// OfflinePushTimeout bounds a single offline push attempt
	OfflinePushTimeout = 10 * time.Second
)

// Audit constants
const (
	// AuditLogRetention is how long a group's moderation trail survives without new entries
	AuditLogRetention = 90 * 24 * time.Hour

	// AuditMaxEntries caps the moderation trail of one group
	AuditMaxEntries = 500
)

// Call-related constants
const (
	// CallRingingTTL is how long an unanswered call stays ringing
	CallRingingTTL = 2 * time.Minute

	// CallActiveTTL bounds how long an accepted call's state is kept
	CallActiveTTL = 24 * time.Hour

	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// Message constants
const (
	// DefaultMessageLimit is the page size of listMessages when none is given
	DefaultMessageLimit = 50

	// MaxMessageLimit caps the page size of listMessages
	MaxMessageLimit = 200

	// MaxMessageLength is the maximum allowed message length
	MaxMessageLength = 10000

	// MaxAttachments is the number of attachments one message may carry
	MaxAttachments = 10

	// MaxPollOptions is the number of options one poll may offer
	MaxPollOptions = 12

	// MaxNameLength bounds group and channel names
	MaxNameLength = 100

	// DefaultConversationLimit is the number of conversations returned per universe
	DefaultConversationLimit = 100
)
