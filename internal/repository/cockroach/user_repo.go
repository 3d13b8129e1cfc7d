package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"rendezvous-backend/internal/domain"
)

// UserRepository handles user data operations in CockroachDB
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT user_id, username, display_name, status, status_message, last_seen, updated_at
		FROM users
		WHERE user_id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.Username,
		&user.DisplayName,
		&user.Status,
		&user.StatusMessage,
		&user.LastSeen,
		&user.UpdatedAt,
	)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// UpdateStatus updates the user's presence. lastSeen is only written when non-nil.
func (r *UserRepository) UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, message *string, lastSeen *time.Time) error {
	query := `
		UPDATE users
		SET status = $2, status_message = $3, last_seen = COALESCE($4, last_seen), updated_at = now()
		WHERE user_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID, status, message, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDisplayNames returns the universe-specific display names of the given users.
// Users without a profile in the universe are absent from the result.
func (r *UserRepository) GetDisplayNames(ctx context.Context, universe domain.Universe, userIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	query := fmt.Sprintf(`
		SELECT user_id, display_name
		FROM %s
		WHERE user_id = ANY($1)
	`, universe.Table(domain.TableProfiles))

	rows, err := r.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get display names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get display names: %w", err)
	}
	return names, nil
}
