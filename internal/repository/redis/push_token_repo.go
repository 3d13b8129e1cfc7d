package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rendezvous-backend/pkg/constants"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/push"
)

// PushTokenRepository handles push notification token storage in Redis.
// Keys: push:token:{token} holds the record, push:user:{userID}:tokens indexes a user's tokens.
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(token string) string {
	return fmt.Sprintf("push:token:%s", token)
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Store stores a push notification token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, tokenKey(token.Token), data, constants.PushTokenExpiry)
	pipe.SAdd(ctx, userTokensKey(token.UserID), token.Token)
	pipe.Expire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	logger.Debug("Push token stored",
		zap.String("user_id", token.UserID.String()),
		zap.String("token_type", string(token.Type)))
	return nil
}

// GetByToken retrieves a token by its value; a missing token is (nil, nil)
func (r *PushTokenRepository) GetByToken(ctx context.Context, token string) (*push.Token, error) {
	data, err := r.client.Get(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var t push.Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &t, nil
}

// GetByUserID retrieves all tokens for a user, pruning index entries whose record expired
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	values, err := r.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	var result []*push.Token
	for _, value := range values {
		t, err := r.GetByToken(ctx, value)
		if err != nil {
			logger.Warn("Failed to get push token", zap.String("user_id", userID.String()), zap.Error(err))
			continue
		}
		if t == nil || t.UserID != userID {
			r.client.SRem(ctx, userTokensKey(userID), value)
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// Update rewrites an existing token record
func (r *PushTokenRepository) Update(ctx context.Context, token *push.Token) error {
	return r.Store(ctx, token)
}

// Delete removes one of the user's tokens
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, token string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, tokenKey(token))
	pipe.SRem(ctx, userTokensKey(userID), token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// MarkInactive flags a token the provider rejected so it is skipped on later sends
func (r *PushTokenRepository) MarkInactive(ctx context.Context, token string) error {
	t, err := r.GetByToken(ctx, token)
	if err != nil || t == nil {
		return err
	}
	t.Active = false
	return r.Store(ctx, t)
}
