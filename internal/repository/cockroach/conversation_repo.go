package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"rendezvous-backend/internal/domain"
)

// ConversationRepository handles direct conversations, one table per universe
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// FindOrCreate returns the conversation for the unordered pair, inserting it when absent.
// The unique (user_low, user_high) key makes concurrent first messages converge on one row.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, universe domain.Universe, a, b uuid.UUID) (*domain.DirectConversation, bool, error) {
	low, high := domain.SortPair(a, b)
	now := time.Now().UTC()
	table := universe.Table(domain.TableDirectConversations)

	conv := &domain.DirectConversation{
		ConversationID: uuid.New(),
		UserLow:        low,
		UserHigh:       high,
		Universe:       universe,
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (conversation_id, user_low, user_high, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_low, user_high) DO NOTHING
		RETURNING created_at, updated_at
	`, table)

	err := r.pool.QueryRow(ctx, query, conv.ConversationID, low, high, now).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err == nil {
		return conv, true, nil
	}
	if !notFound(err) {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	existing, err := r.GetByPair(ctx, universe, low, high)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByPair retrieves the conversation between two users
func (r *ConversationRepository) GetByPair(ctx context.Context, universe domain.Universe, a, b uuid.UUID) (*domain.DirectConversation, error) {
	low, high := domain.SortPair(a, b)
	query := fmt.Sprintf(`
		SELECT conversation_id, user_low, user_high, created_at, updated_at
		FROM %s
		WHERE user_low = $1 AND user_high = $2
	`, universe.Table(domain.TableDirectConversations))

	return r.scanOne(universe, r.pool.QueryRow(ctx, query, low, high))
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, universe domain.Universe, conversationID uuid.UUID) (*domain.DirectConversation, error) {
	query := fmt.Sprintf(`
		SELECT conversation_id, user_low, user_high, created_at, updated_at
		FROM %s
		WHERE conversation_id = $1
	`, universe.Table(domain.TableDirectConversations))

	return r.scanOne(universe, r.pool.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) scanOne(universe domain.Universe, row interface{ Scan(...any) error }) (*domain.DirectConversation, error) {
	conv := &domain.DirectConversation{Universe: universe}
	err := row.Scan(&conv.ConversationID, &conv.UserLow, &conv.UserHigh, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// Touch advances updated_at; it never moves backwards under concurrent senders
func (r *ConversationRepository) Touch(ctx context.Context, universe domain.Universe, conversationID uuid.UUID, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET updated_at = GREATEST(updated_at, $2)
		WHERE conversation_id = $1
	`, universe.Table(domain.TableDirectConversations))

	if _, err := r.pool.Exec(ctx, query, conversationID, at); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// ListVisibleForUser returns the user's conversations in a universe whose
// visibility row for the user is visible, most recent first. The limit counts
// visible rows only.
func (r *ConversationRepository) ListVisibleForUser(ctx context.Context, universe domain.Universe, userID uuid.UUID, limit int) ([]*domain.DirectConversation, error) {
	query := fmt.Sprintf(`
		SELECT c.conversation_id, c.user_low, c.user_high, c.created_at, c.updated_at
		FROM %s c
		JOIN conversation_visibility v
		  ON v.user_id = $1
		 AND v.other_user_id = CASE WHEN c.user_low = $1 THEN c.user_high ELSE c.user_low END
		 AND v.kind = $3
		 AND v.state = $4
		WHERE c.user_low = $1 OR c.user_high = $1
		ORDER BY c.updated_at DESC
		LIMIT $2
	`, universe.Table(domain.TableDirectConversations))

	rows, err := r.pool.Query(ctx, query, userID, limit, domain.KindDirect, domain.VisibilityVisible)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.DirectConversation
	for rows.Next() {
		conv := &domain.DirectConversation{Universe: universe}
		if err := rows.Scan(&conv.ConversationID, &conv.UserLow, &conv.UserHigh, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// ListPartnerIDs returns everyone the user has a direct conversation with in a universe
func (r *ConversationRepository) ListPartnerIDs(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`
		SELECT CASE WHEN user_low = $1 THEN user_high ELSE user_low END
		FROM %s
		WHERE user_low = $1 OR user_high = $1
	`, universe.Table(domain.TableDirectConversations))

	return collectIDs(ctx, r.pool, query, userID)
}

func collectIDs(ctx context.Context, q querier, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	return ids, nil
}
