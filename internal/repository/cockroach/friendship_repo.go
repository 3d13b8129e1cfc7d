package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"rendezvous-backend/internal/domain"
)

// FriendshipRepository reads friendship rows. Requests are written by the identity service.
type FriendshipRepository struct {
	pool *pgxpool.Pool
}

// NewFriendshipRepository creates a new FriendshipRepository
func NewFriendshipRepository(pool *pgxpool.Pool) *FriendshipRepository {
	return &FriendshipRepository{pool: pool}
}

// AreFriends reports whether a and b have an accepted friendship in the universe, in either row order
func (r *FriendshipRepository) AreFriends(ctx context.Context, universe domain.Universe, a, b uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS(
			SELECT 1 FROM %s
			WHERE status = $3
			  AND ((requester_id = $1 AND target_id = $2) OR (requester_id = $2 AND target_id = $1))
		)
	`, universe.Table(domain.TableFriendships))

	var exists bool
	if err := r.pool.QueryRow(ctx, query, a, b, domain.FriendshipAccepted).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return exists, nil
}

// ListAcceptedFriendIDs returns the user's accepted friends in the universe
func (r *FriendshipRepository) ListAcceptedFriendIDs(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`
		SELECT CASE WHEN requester_id = $1 THEN target_id ELSE requester_id END
		FROM %s
		WHERE status = $2 AND (requester_id = $1 OR target_id = $1)
	`, universe.Table(domain.TableFriendships))

	return collectIDs(ctx, r.pool, query, userID, domain.FriendshipAccepted)
}
