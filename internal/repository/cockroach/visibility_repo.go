package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"rendezvous-backend/internal/domain"
)

// VisibilityRepository stores per-user conversation visibility in conversation_visibility
type VisibilityRepository struct {
	pool *pgxpool.Pool
}

// NewVisibilityRepository creates a new VisibilityRepository
func NewVisibilityRepository(pool *pgxpool.Pool) *VisibilityRepository {
	return &VisibilityRepository{pool: pool}
}

// MarkVisiblePair sets both directions of the pair to visible in a single statement
func (r *VisibilityRepository) MarkVisiblePair(ctx context.Context, a, b uuid.UUID, kind domain.ConversationKind, lastMessageAt time.Time) error {
	query := `
		INSERT INTO conversation_visibility (user_id, other_user_id, kind, state, last_message_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now()), ($2, $1, $3, $4, $5, now())
		ON CONFLICT (user_id, other_user_id, kind)
		DO UPDATE SET state = excluded.state,
		              last_message_at = GREATEST(conversation_visibility.last_message_at, excluded.last_message_at),
		              updated_at = excluded.updated_at
	`

	if _, err := r.pool.Exec(ctx, query, a, b, kind, domain.VisibilityVisible, lastMessageAt); err != nil {
		return fmt.Errorf("failed to mark conversation visible: %w", err)
	}
	return nil
}

// Hide sets the user's own row to hidden. The other direction is untouched.
func (r *VisibilityRepository) Hide(ctx context.Context, userID, otherID uuid.UUID, kind domain.ConversationKind) error {
	query := `
		INSERT INTO conversation_visibility (user_id, other_user_id, kind, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, other_user_id, kind)
		DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`

	if _, err := r.pool.Exec(ctx, query, userID, otherID, kind, domain.VisibilityHidden); err != nil {
		return fmt.Errorf("failed to hide conversation: %w", err)
	}
	return nil
}

// Get returns the user's row for the pair, or ErrNotFound when they never interacted
func (r *VisibilityRepository) Get(ctx context.Context, userID, otherID uuid.UUID, kind domain.ConversationKind) (*domain.ConversationVisibility, error) {
	query := `
		SELECT user_id, other_user_id, kind, state, last_message_at, updated_at
		FROM conversation_visibility
		WHERE user_id = $1 AND other_user_id = $2 AND kind = $3
	`

	v := &domain.ConversationVisibility{}
	err := r.pool.QueryRow(ctx, query, userID, otherID, kind).Scan(
		&v.UserID, &v.OtherUserID, &v.Kind, &v.State, &v.LastMessageAt, &v.UpdatedAt,
	)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get visibility: %w", err)
	}
	return v, nil
}

// ListVisible returns the rows currently shown to the user
func (r *VisibilityRepository) ListVisible(ctx context.Context, userID uuid.UUID, kind domain.ConversationKind) ([]*domain.ConversationVisibility, error) {
	query := `
		SELECT user_id, other_user_id, kind, state, last_message_at, updated_at
		FROM conversation_visibility
		WHERE user_id = $1 AND kind = $2 AND state = $3
	`

	rows, err := r.pool.Query(ctx, query, userID, kind, domain.VisibilityVisible)
	if err != nil {
		return nil, fmt.Errorf("failed to list visibility: %w", err)
	}
	defer rows.Close()

	var states []*domain.ConversationVisibility
	for rows.Next() {
		v := &domain.ConversationVisibility{}
		if err := rows.Scan(&v.UserID, &v.OtherUserID, &v.Kind, &v.State, &v.LastMessageAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan visibility: %w", err)
		}
		states = append(states, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list visibility: %w", err)
	}
	return states, nil
}
