package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rendezvous-backend/internal/domain"
)

// ErrCallNotFound is returned for unknown or expired calls
var ErrCallNotFound = errors.New("call not found")

// CallRepository keeps short-lived call signaling state under call:{id}
type CallRepository struct {
	client *redis.Client
}

// NewCallRepository creates a new CallRepository
func NewCallRepository(client *redis.Client) *CallRepository {
	return &CallRepository{client: client}
}

// Save writes the call state with the given lifetime
func (r *CallRepository) Save(ctx context.Context, call *domain.Call, ttl time.Duration) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}
	if err := r.client.Set(ctx, fmt.Sprintf("call:%s", call.CallID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save call: %w", err)
	}
	return nil
}

// Get retrieves a call by ID
func (r *CallRepository) Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	data, err := r.client.Get(ctx, fmt.Sprintf("call:%s", callID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	var call domain.Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	return &call, nil
}
