// Package call delivers call signaling between two users. Call state lives in
// Redis with a TTL; the signaling payload is opaque and passed through as is.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	redisRepo "rendezvous-backend/internal/repository/redis"
	"rendezvous-backend/pkg/constants"
	appErrors "rendezvous-backend/pkg/errors"
)

const maxPayloadSize = 64 * 1024

// Repository stores call state
type Repository interface {
	Save(ctx context.Context, call *domain.Call, ttl time.Duration) error
	Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
}

// FriendshipChecker gates who may ring whom
type FriendshipChecker interface {
	AreFriends(ctx context.Context, universe domain.Universe, a, b uuid.UUID) (bool, error)
}

// Publisher hands events to the dispatcher
type Publisher interface {
	Publish(event *domain.Event)
}

// Service handles call signaling delivery
type Service struct {
	repo      Repository
	friends   FriendshipChecker
	publisher Publisher
	now       func() time.Time
}

// NewService creates a new call service
func NewService(repo Repository, friends FriendshipChecker, publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		friends:   friends,
		publisher: publisher,
		now:       time.Now,
	}
}

// RingInput contains the data needed to start a call
type RingInput struct {
	CallerID uuid.UUID
	CalleeID uuid.UUID
	Universe domain.Universe
	CallType string
	Payload  json.RawMessage
}

// Ring creates a ringing call and notifies the callee
func (s *Service) Ring(ctx context.Context, input *RingInput) (*domain.Call, error) {
	if input.CallerID == input.CalleeID {
		return nil, appErrors.ValidationError("cannot call yourself")
	}
	if input.CallType != constants.CallTypeAudio && input.CallType != constants.CallTypeVideo {
		return nil, appErrors.ValidationError("call_type must be audio or video")
	}
	if len(input.Payload) > maxPayloadSize {
		return nil, appErrors.ValidationError("signaling payload too large")
	}

	friends, err := s.friends.AreFriends(ctx, input.Universe, input.CallerID, input.CalleeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check friendship: %w", err)
	}
	if !friends {
		return nil, appErrors.NotFriendsError(input.Universe.String())
	}

	now := s.now().UTC()
	call := &domain.Call{
		CallID:    uuid.New(),
		CallerID:  input.CallerID,
		CalleeID:  input.CalleeID,
		Universe:  input.Universe,
		CallType:  input.CallType,
		Status:    domain.CallRinging,
		Payload:   input.Payload,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Save(ctx, call, constants.CallRingingTTL); err != nil {
		return nil, fmt.Errorf("failed to save call: %w", err)
	}

	s.publisher.Publish(&domain.Event{
		Type:   domain.EventIncomingCall,
		Data:   call,
		Actor:  call.CallerID,
		Target: call.CalleeID,
	})
	return call, nil
}

// UpdateStatusInput contains a status transition requested by one party
type UpdateStatusInput struct {
	CallID  uuid.UUID
	ActorID uuid.UUID
	Status  domain.CallStatus
	Payload json.RawMessage
}

// UpdateStatus applies a transition and notifies the other party only
func (s *Service) UpdateStatus(ctx context.Context, input *UpdateStatusInput) (*domain.Call, error) {
	if len(input.Payload) > maxPayloadSize {
		return nil, appErrors.ValidationError("signaling payload too large")
	}

	call, err := s.repo.Get(ctx, input.CallID)
	if err != nil {
		if errors.Is(err, redisRepo.ErrCallNotFound) {
			return nil, appErrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	if !call.Has(input.ActorID) {
		return nil, appErrors.NotParticipantError()
	}
	if err := checkTransition(call, input.ActorID, input.Status); err != nil {
		return nil, err
	}

	call.Status = input.Status
	call.Payload = input.Payload
	call.UpdatedAt = s.now().UTC()

	ttl := constants.CallActiveTTL
	if call.Status.Terminal() {
		ttl = constants.CallRingingTTL
	}
	if err := s.repo.Save(ctx, call, ttl); err != nil {
		return nil, fmt.Errorf("failed to save call: %w", err)
	}

	s.publisher.Publish(&domain.Event{
		Type:   domain.EventCallStatusUpdate,
		Data:   call,
		Actor:  input.ActorID,
		Target: call.OtherParty(input.ActorID),
	})
	return call, nil
}

// checkTransition allows:
//
//	ringing  -> accepted, rejected (callee)
//	ringing  -> cancelled (caller)
//	ringing  -> missed (either)
//	accepted -> ended (either)
func checkTransition(call *domain.Call, actor uuid.UUID, next domain.CallStatus) error {
	if call.Status.Terminal() {
		return appErrors.ConflictError("call already finished")
	}

	switch call.Status {
	case domain.CallRinging:
		switch next {
		case domain.CallAccepted, domain.CallRejected:
			if actor != call.CalleeID {
				return appErrors.ForbiddenError("only the callee can answer")
			}
			return nil
		case domain.CallCancelled:
			if actor != call.CallerID {
				return appErrors.ForbiddenError("only the caller can cancel")
			}
			return nil
		case domain.CallMissed:
			return nil
		}
	case domain.CallAccepted:
		if next == domain.CallEnded {
			return nil
		}
	}
	return appErrors.ValidationError(fmt.Sprintf("cannot move call from %s to %s", call.Status, next))
}
