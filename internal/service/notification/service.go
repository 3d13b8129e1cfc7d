// Package notification turns committed state changes into typed events and
// delivers them to the live push connections of every recipient.
//
// Delivery is best effort. Publish never blocks the caller and never fails; a
// full queue drops the event. Recipients with no live connection may receive a
// mobile push instead.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/pkg/constants"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
	"rendezvous-backend/pkg/push"
)

// Deliverer writes a frame to every live connection of a user and reports how many accepted it
type Deliverer interface {
	Deliver(ctx context.Context, userID uuid.UUID, frame []byte) int
}

// RecipientResolver computes who must hear about an event
type RecipientResolver interface {
	Participants(ctx context.Context, ref domain.ConversationRef) ([]uuid.UUID, error)
	StatusAudience(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// PushSender sends mobile notifications
type PushSender interface {
	SendToUsers(ctx context.Context, notification *push.Notification, userIDs []uuid.UUID) (*push.SendResult, error)
}

// PresenceChecker reports whether a user is online on any instance
type PresenceChecker interface {
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Config sizes the dispatcher
type Config struct {
	QueueSize    int
	Workers      int
	DrainTimeout time.Duration
}

// Service is the notification dispatcher
type Service struct {
	deliverer Deliverer
	resolver  RecipientResolver
	pusher    PushSender
	presence  PresenceChecker

	queue        chan *domain.Event
	workers      int
	drainTimeout time.Duration

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewService creates a dispatcher. pusher and presence may be nil, which
// disables the offline push fallback.
func NewService(cfg Config, deliverer Deliverer, resolver RecipientResolver, pusher PushSender, presence PresenceChecker) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = constants.DispatcherDrainTimeout
	}
	return &Service{
		deliverer:    deliverer,
		resolver:     resolver,
		pusher:       pusher,
		presence:     presence,
		queue:        make(chan *domain.Event, cfg.QueueSize),
		workers:      cfg.Workers,
		drainTimeout: cfg.DrainTimeout,
	}
}

// Start launches the worker goroutines. Workers keep draining after ctx is
// cancelled; call Stop to end them.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	base := context.WithoutCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(base)
	}
	logger.Info("Notification dispatcher started", zap.Int("workers", s.workers), zap.Int("queue_size", cap(s.queue)))
}

// Stop refuses new events and waits for queued ones to be delivered, up to the drain timeout
func (s *Service) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	started := s.started
	s.mu.Unlock()

	if !started {
		return
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Notification dispatcher drained")
	case <-time.After(s.drainTimeout):
		logger.Warn("Notification dispatcher drain timed out", zap.Int("pending", len(s.queue)))
	}
}

// Publish enqueues an event for delivery
func (s *Service) Publish(event *domain.Event) {
	if event == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.ChatNotificationDroppedTotal.WithLabelValues("stopped").Inc()
		return
	}

	select {
	case s.queue <- event:
		metrics.ChatNotificationQueueLength.Set(float64(len(s.queue)))
	default:
		metrics.ChatNotificationDroppedTotal.WithLabelValues("queue_full").Inc()
		logger.Warn("Notification queue full, dropping event", zap.String("type", string(event.Type)))
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for event := range s.queue {
		metrics.ChatNotificationQueueLength.Set(float64(len(s.queue)))
		s.dispatch(ctx, event)
	}
}

func (s *Service) dispatch(parent context.Context, event *domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while dispatching event",
				zap.String("type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, constants.DefaultTimeout)
	defer cancel()

	recipients, err := s.recipients(ctx, event)
	if err != nil {
		metrics.ChatNotificationDroppedTotal.WithLabelValues("resolve_failed").Inc()
		logger.Warn("Failed to resolve event recipients",
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return
	}

	frame, err := Encode(event)
	if err != nil {
		metrics.ChatNotificationDroppedTotal.WithLabelValues("encode_failed").Inc()
		logger.Error("Failed to encode event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	metrics.ChatNotificationDispatchedTotal.WithLabelValues(string(event.Type)).Inc()

	var unreached []uuid.UUID
	for _, userID := range recipients {
		n := s.deliverer.Deliver(ctx, userID, frame)
		metrics.ChatNotificationDeliveredTotal.WithLabelValues(string(event.Type)).Add(float64(n))
		if n == 0 && userID != event.Actor {
			unreached = append(unreached, userID)
		}
	}

	if len(unreached) > 0 && wantsOfflinePush(event.Type) {
		s.pushOffline(ctx, event, unreached)
	}
}

// recipients applies the per-kind resolution rule
func (s *Service) recipients(ctx context.Context, event *domain.Event) ([]uuid.UUID, error) {
	switch event.Type {
	case domain.EventNewMessage, domain.EventMessageRead:
		if event.Ref == nil {
			return nil, fmt.Errorf("%s event has no conversation", event.Type)
		}
		return s.resolver.Participants(ctx, *event.Ref)

	case domain.EventTypingStart, domain.EventTypingStop:
		if event.Ref == nil {
			return nil, fmt.Errorf("%s event has no conversation", event.Type)
		}
		ids, err := s.resolver.Participants(ctx, *event.Ref)
		if err != nil {
			return nil, err
		}
		return exclude(ids, event.Actor), nil

	case domain.EventNewConversation:
		data, ok := event.Data.(*domain.NewConversationData)
		if !ok || data.Conversation == nil {
			return nil, fmt.Errorf("new conversation event has no conversation")
		}
		return data.Conversation.Participants(), nil

	case domain.EventStatusChange:
		return s.resolver.StatusAudience(ctx, event.Actor)

	case domain.EventIncomingCall, domain.EventCallStatusUpdate:
		if event.Target == uuid.Nil {
			return nil, fmt.Errorf("%s event has no target", event.Type)
		}
		return []uuid.UUID{event.Target}, nil
	}

	if event.Target != uuid.Nil {
		return []uuid.UUID{event.Target}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", event.Type)
}

func wantsOfflinePush(kind domain.EventKind) bool {
	return kind == domain.EventNewMessage || kind == domain.EventIncomingCall
}

// pushOffline sends a mobile notification to the recipients presence reports as offline.
// A user connected to another instance is online in presence and is skipped.
func (s *Service) pushOffline(ctx context.Context, event *domain.Event, userIDs []uuid.UUID) {
	if s.pusher == nil {
		return
	}

	var offline []uuid.UUID
	for _, userID := range userIDs {
		if s.presence != nil {
			online, err := s.presence.IsUserOnline(ctx, userID)
			if err != nil {
				logger.Debug("Presence lookup failed, skipping offline push",
					zap.String("user_id", userID.String()),
					zap.Error(err))
				continue
			}
			if online {
				continue
			}
		}
		offline = append(offline, userID)
	}
	if len(offline) == 0 {
		return
	}

	notification := offlineNotification(event)
	if notification == nil {
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, constants.OfflinePushTimeout)
	defer cancel()

	result, err := s.pusher.SendToUsers(pushCtx, notification, offline)
	if err != nil {
		metrics.ChatOfflinePushTotal.WithLabelValues("error").Inc()
		logger.Warn("Offline push failed",
			zap.String("type", string(event.Type)),
			zap.Int("recipients", len(offline)),
			zap.Error(err))
		return
	}
	status := "sent"
	if result != nil && result.SuccessCount == 0 {
		status = "undelivered"
	}
	metrics.ChatOfflinePushTotal.WithLabelValues(status).Inc()
}

// offlineNotification never carries the message body
func offlineNotification(event *domain.Event) *push.Notification {
	switch data := event.Data.(type) {
	case *domain.Message:
		title := data.SenderName
		if title == "" {
			title = "New message"
		}
		n := &push.Notification{
			Title:    title,
			Body:     "Sent you a message",
			Priority: "high",
			Sound:    "default",
			Category: "MESSAGE",
			Data: map[string]string{
				"type":       string(event.Type),
				"message_id": data.MessageID.String(),
				"kind":       string(data.Kind),
				"universe":   data.Universe.String(),
			},
		}
		if data.Kind == domain.KindGroup {
			n.Body = "New message in a group"
			n.Data["group_id"] = data.GroupID.String()
			n.Data["channel_id"] = data.ContainerID.String()
		} else {
			n.Data["conversation_id"] = data.ContainerID.String()
		}
		return n

	case *domain.Call:
		return &push.Notification{
			Title:    "Incoming call",
			Body:     fmt.Sprintf("Incoming %s call", data.CallType),
			Priority: "high",
			Sound:    "default",
			Category: "CALL",
			Data: map[string]string{
				"type":      string(event.Type),
				"call_id":   data.CallID.String(),
				"caller_id": data.CallerID.String(),
				"call_type": data.CallType,
			},
		}
	}
	return nil
}

// Encode serializes an event as the {"type","data"} frame body
func Encode(event *domain.Event) ([]byte, error) {
	return json.Marshal(event)
}

func exclude(ids []uuid.UUID, skip uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
