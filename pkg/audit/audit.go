// Package audit keeps a per-group trail of moderation actions in Redis
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rendezvous-backend/pkg/constants"
)

// Action is a moderation action kind
type Action string

const (
	ActionMemberAdd     Action = "member_add"
	ActionMemberBan     Action = "member_ban"
	ActionChannelCreate Action = "channel_create"
	ActionChannelDelete Action = "channel_delete"
	ActionMessageDelete Action = "message_delete"
	ActionMessagePin    Action = "message_pin"
	ActionMessageUnpin  Action = "message_unpin"
)

// Entry is one audit record
type Entry struct {
	EntryID   uuid.UUID  `json:"entry_id"`
	Universe  string     `json:"universe"`
	GroupID   uuid.UUID  `json:"group_id"`
	ActorID   uuid.UUID  `json:"actor_id"`
	Action    Action     `json:"action"`
	TargetID  *uuid.UUID `json:"target_id,omitempty"`
	Details   string     `json:"details,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Key is the Redis list holding a group's trail, newest first
func Key(universe string, groupID uuid.UUID) string {
	return fmt.Sprintf("audit:group:%s:%s", universe, groupID)
}

// Logger writes and reads audit trails
type Logger struct {
	client     *redis.Client
	maxEntries int64
	retention  time.Duration
	now        func() time.Time
}

// NewLogger creates an audit logger
func NewLogger(client *redis.Client) *Logger {
	return &Logger{
		client:     client,
		maxEntries: constants.AuditMaxEntries,
		retention:  constants.AuditLogRetention,
		now:        time.Now,
	}
}

// Record appends entry to its group's trail. The trail is capped and expires
// when the group sees no moderation for the retention period.
func (l *Logger) Record(ctx context.Context, entry *Entry) error {
	stamp(entry, l.now)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	key := Key(entry.Universe, entry.GroupID)
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, l.maxEntries-1)
	pipe.Expire(ctx, key, l.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Unreadable entries are skipped.
func (l *Logger) Recent(ctx context.Context, universe string, groupID uuid.UUID, limit int) ([]*Entry, error) {
	if limit <= 0 || int64(limit) > l.maxEntries {
		limit = int(l.maxEntries)
	}
	raw, err := l.client.LRange(ctx, Key(universe, groupID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return decodeAll(raw), nil
}

func stamp(entry *Entry, now func() time.Time) {
	if entry.EntryID == uuid.Nil {
		entry.EntryID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now().UTC()
	}
}

func decodeAll(raw []string) []*Entry {
	entries := make([]*Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries
}
