package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"rendezvous-backend/pkg/constants"
	appctx "rendezvous-backend/pkg/context"
	"rendezvous-backend/pkg/metrics"
)

var (
	// ErrConnClosed is returned by Send after Close
	ErrConnClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when the outbound buffer is full
	ErrSlowConsumer = errors.New("connection outbound buffer full")
)

// Conn is a Handle backed by a bounded outbound buffer. The transport drains
// Frames() in its own goroutine and Send never blocks. A full buffer closes the
// connection. The buffer channel itself is never closed, only Done.
type Conn struct {
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates a connection buffering up to size frames
func NewConn(size int) *Conn {
	if size <= 0 {
		size = constants.PushConnectionBuffer
	}
	return &Conn{
		out:  make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Send implements Handle
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.Close()
		return ErrSlowConsumer
	}
}

// Frames returns the outbound frames to write
func (c *Conn) Frames() <-chan []byte {
	return c.out
}

// Done is closed once Close has been called
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection closed. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// PresenceTracker is told how many connections a user holds after each change
type PresenceTracker interface {
	Connected(ctx context.Context, userID uuid.UUID, connections int)
	Disconnected(ctx context.Context, userID uuid.UUID, remaining int)
	Heartbeat(ctx context.Context, userID uuid.UUID)
}

// Lifecycle ties transport connections to the registry and to presence
type Lifecycle struct {
	registry  *Registry
	presence  PresenceTracker
	heartbeat time.Duration

	mu    sync.Mutex
	open  map[*Conn]struct{}
	gates map[uuid.UUID]*userGate
}

// userGate orders the register/connected and unregister/disconnected pairs of
// one user so the last presence write matches the final connection count
type userGate struct {
	mu   sync.Mutex
	refs int
}

// NewLifecycle creates a lifecycle. presence may be nil.
func NewLifecycle(registry *Registry, presence PresenceTracker) *Lifecycle {
	return &Lifecycle{
		registry:  registry,
		presence:  presence,
		heartbeat: constants.PresenceRefreshInterval,
		open:      make(map[*Conn]struct{}),
		gates:     make(map[uuid.UUID]*userGate),
	}
}

func (l *Lifecycle) lockUser(userID uuid.UUID) func() {
	l.mu.Lock()
	gate, ok := l.gates[userID]
	if !ok {
		gate = &userGate{}
		l.gates[userID] = gate
	}
	gate.refs++
	l.mu.Unlock()

	gate.mu.Lock()
	return func() {
		gate.mu.Unlock()
		l.mu.Lock()
		gate.refs--
		if gate.refs == 0 {
			delete(l.gates, userID)
		}
		l.mu.Unlock()
	}
}

// Open registers conn for userID and returns its release function. Release
// closes the connection, unregisters it and reports the disconnect; it runs
// at most once however many cleanup paths call it.
func (l *Lifecycle) Open(ctx context.Context, userID uuid.UUID, conn *Conn, transport string) func() {
	l.mu.Lock()
	l.open[conn] = struct{}{}
	l.mu.Unlock()

	unlock := l.lockUser(userID)
	count := l.registry.Register(userID, conn)
	metrics.ChatPushConnectionTotal.WithLabelValues(transport).Inc()
	if l.presence != nil {
		l.presence.Connected(ctx, userID, count)
		go l.keepPresence(context.WithoutCancel(ctx), userID, conn)
	}
	unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			conn.Close()
			l.mu.Lock()
			delete(l.open, conn)
			l.mu.Unlock()

			unlock := l.lockUser(userID)
			defer unlock()
			remaining := l.registry.Unregister(userID, conn)
			if l.presence == nil {
				return
			}
			// The request context is already cancelled when the client hangs up
			bg, cancel := appctx.Detached(ctx, appctx.ShortTimeout)
			defer cancel()
			l.presence.Disconnected(bg, userID, remaining)
		})
	}
}

// keepPresence refreshes the online marker while conn stays open
func (l *Lifecycle) keepPresence(ctx context.Context, userID uuid.UUID, conn *Conn) {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := appctx.WithShortTimeout(ctx)
			l.presence.Heartbeat(hbCtx, userID)
			cancel()
		}
	}
}

// Shutdown closes every open connection so the transports return. The
// transports run their own release.
func (l *Lifecycle) Shutdown() {
	l.mu.Lock()
	conns := make([]*Conn, 0, len(l.open))
	for conn := range l.open {
		conns = append(conns, conn)
	}
	l.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
