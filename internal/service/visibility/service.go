// Package visibility tracks whether a direct conversation is shown in each
// participant's list. States are visible or hidden; a missing row means the two
// users never interacted and the conversation is not shown.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/repository/cockroach"
)

// Repository persists visibility rows
type Repository interface {
	MarkVisiblePair(ctx context.Context, a, b uuid.UUID, kind domain.ConversationKind, lastMessageAt time.Time) error
	Hide(ctx context.Context, userID, otherID uuid.UUID, kind domain.ConversationKind) error
	Get(ctx context.Context, userID, otherID uuid.UUID, kind domain.ConversationKind) (*domain.ConversationVisibility, error)
	ListVisible(ctx context.Context, userID uuid.UUID, kind domain.ConversationKind) ([]*domain.ConversationVisibility, error)
}

// Service applies the two visibility transitions
type Service struct {
	repo Repository
}

// NewService creates a new visibility service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// MarkBothVisible shows the conversation to both participants. Called on every
// message send, in either direction.
func (s *Service) MarkBothVisible(ctx context.Context, a, b uuid.UUID, lastMessageAt time.Time) error {
	if err := s.repo.MarkVisiblePair(ctx, a, b, domain.KindDirect, lastMessageAt); err != nil {
		return fmt.Errorf("failed to mark conversation visible: %w", err)
	}
	return nil
}

// Hide removes the conversation from userID's list only. Messages are kept.
func (s *Service) Hide(ctx context.Context, userID, otherID uuid.UUID) error {
	if err := s.repo.Hide(ctx, userID, otherID, domain.KindDirect); err != nil {
		return fmt.Errorf("failed to hide conversation: %w", err)
	}
	return nil
}

// IsShown reports whether userID currently sees the conversation with otherID
func (s *Service) IsShown(ctx context.Context, userID, otherID uuid.UUID) (bool, error) {
	v, err := s.repo.Get(ctx, userID, otherID, domain.KindDirect)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get visibility: %w", err)
	}
	return v.Shown(), nil
}

// ShownPartners returns the partners whose conversation userID currently sees
func (s *Service) ShownPartners(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]*domain.ConversationVisibility, error) {
	rows, err := s.repo.ListVisible(ctx, userID, domain.KindDirect)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible conversations: %w", err)
	}
	shown := make(map[uuid.UUID]*domain.ConversationVisibility, len(rows))
	for _, row := range rows {
		if row.Shown() {
			shown[row.OtherUserID] = row
		}
	}
	return shown, nil
}
