// Package realtime keeps the live push connections of this process and fans
// frames out to them, optionally across instances through Redis.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
)

// Handle is one live push connection. Send must not block indefinitely.
type Handle interface {
	Send(frame []byte) error
}

// Registry maps user ids to their live connections. A user may hold any number
// of handles at once (several devices or tabs).
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID][]Handle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID][]Handle)}
}

// Register adds a handle and returns how many the user now has
func (r *Registry) Register(userID uuid.UUID, h Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[userID] = append(r.conns[userID], h)
	metrics.ChatPushConnections.Inc()
	return len(r.conns[userID])
}

// Unregister removes a handle and returns how many the user has left.
// The user's key is dropped once the last handle goes. Removing an unknown
// handle is a no-op, so cleanup paths may call it more than once.
func (r *Registry) Unregister(userID uuid.UUID, h Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(userID, h)
	return len(r.conns[userID])
}

// remove requires r.mu held for writing
func (r *Registry) remove(userID uuid.UUID, h Handle) bool {
	handles := r.conns[userID]
	for i, existing := range handles {
		if existing != h {
			continue
		}
		rest := make([]Handle, 0, len(handles)-1)
		rest = append(rest, handles[:i]...)
		rest = append(rest, handles[i+1:]...)
		if len(rest) == 0 {
			delete(r.conns, userID)
		} else {
			r.conns[userID] = rest
		}
		metrics.ChatPushConnections.Dec()
		return true
	}
	return false
}

// Broadcast writes frame to every handle of the user and returns the number of
// successful writes. A handle whose write fails is removed before the rest are
// tried. Writes run outside the lock on a snapshot.
func (r *Registry) Broadcast(userID uuid.UUID, frame []byte) int {
	r.mu.RLock()
	handles := r.conns[userID]
	r.mu.RUnlock()

	delivered := 0
	for _, h := range handles {
		if err := h.Send(frame); err != nil {
			r.mu.Lock()
			pruned := r.remove(userID, h)
			r.mu.Unlock()
			if pruned {
				metrics.ChatPushConnectionPrunedTotal.Inc()
			}
			logger.Debug("Pruned push connection after failed write",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Deliver is Broadcast for callers that route frames through a deliverer
func (r *Registry) Deliver(_ context.Context, userID uuid.UUID, frame []byte) int {
	return r.Broadcast(userID, frame)
}

// Count returns the number of live handles of the user
func (r *Registry) Count(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// Online returns the users with at least one live handle
func (r *Registry) Online() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
