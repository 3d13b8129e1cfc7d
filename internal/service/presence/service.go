package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/repository/cockroach"
	appctx "rendezvous-backend/pkg/context"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
)

const maxStatusMessageLength = 140

// UserRepository persists the status columns of users
type UserRepository interface {
	UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, message *string, lastSeen *time.Time) error
}

// PresenceRepository keeps the short-lived online markers in Redis
type PresenceRepository interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// Publisher hands events to the dispatcher
type Publisher interface {
	Publish(event *domain.Event)
}

// Service handles the status update path
type Service struct {
	users     UserRepository
	presence  PresenceRepository
	publisher Publisher
	now       func() time.Time
}

// NewService creates a new presence service
func NewService(users UserRepository, presence PresenceRepository, publisher Publisher) *Service {
	return &Service{
		users:     users,
		presence:  presence,
		publisher: publisher,
		now:       time.Now,
	}
}

// UpdateStatus persists an explicit status change and notifies the user's audience
func (s *Service) UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, message *string) (*domain.StatusChangeData, error) {
	if !status.Valid() {
		return nil, appErrors.ValidationError("status must be one of online, away, dnd, offline")
	}
	if message != nil {
		trimmed := strings.TrimSpace(*message)
		if utf8.RuneCountInString(trimmed) > maxStatusMessageLength {
			return nil, appErrors.ValidationError(fmt.Sprintf("status message exceeds %d characters", maxStatusMessageLength))
		}
		message = &trimmed
	}

	var lastSeen *time.Time
	if status == domain.PresenceOffline {
		now := s.now().UTC()
		lastSeen = &now
	}

	if err := s.users.UpdateStatus(ctx, userID, status, message, lastSeen); err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, appErrors.UserNotFoundError()
		}
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	s.syncMarker(ctx, userID, status)

	change := &domain.StatusChangeData{
		UserID:        userID,
		Status:        status,
		StatusMessage: message,
		LastSeen:      lastSeen,
	}
	s.publisher.Publish(&domain.Event{Type: domain.EventStatusChange, Data: change, Actor: userID})
	return change, nil
}

// Connected is called when a push connection opens. The first connection of a
// user marks them online.
func (s *Service) Connected(ctx context.Context, userID uuid.UUID, connections int) {
	if connections > 1 {
		if err := s.presence.RefreshPresence(ctx, userID); err != nil {
			logger.Debug("Failed to refresh presence", zap.String("user_id", userID.String()), zap.Error(err))
		}
		return
	}
	s.transition(ctx, userID, domain.PresenceOnline)
}

// Disconnected is called when a push connection closes. The last connection
// going away marks the user offline and stamps last-seen.
func (s *Service) Disconnected(ctx context.Context, userID uuid.UUID, remaining int) {
	if remaining > 0 {
		return
	}
	s.transition(ctx, userID, domain.PresenceOffline)
}

// Heartbeat keeps the online marker of a connected user alive
func (s *Service) Heartbeat(ctx context.Context, userID uuid.UUID) {
	if err := s.presence.RefreshPresence(ctx, userID); err != nil {
		logger.Debug("Failed to refresh presence", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// transition is the connection-driven status change. Failures are logged; a
// connection never fails because presence could not be written.
func (s *Service) transition(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) {
	ctx, cancel := appctx.Detached(ctx, appctx.ShortTimeout)
	defer cancel()

	var lastSeen *time.Time
	if status == domain.PresenceOffline {
		now := s.now().UTC()
		lastSeen = &now
	}

	if err := s.users.UpdateStatus(ctx, userID, status, nil, lastSeen); err != nil {
		logger.Warn("Failed to persist connection status",
			zap.String("user_id", userID.String()),
			zap.String("status", string(status)),
			zap.Error(err))
	}
	s.syncMarker(ctx, userID, status)

	s.publisher.Publish(&domain.Event{
		Type:  domain.EventStatusChange,
		Data:  &domain.StatusChangeData{UserID: userID, Status: status, LastSeen: lastSeen},
		Actor: userID,
	})
}

func (s *Service) syncMarker(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) {
	var err error
	if status == domain.PresenceOffline {
		err = s.presence.SetUserOffline(ctx, userID)
	} else {
		err = s.presence.SetUserOnline(ctx, userID)
	}
	if err != nil {
		logger.Warn("Failed to update presence marker",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}
