package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
	"rendezvous-backend/pkg/response"
)

// Counter increments the request count of key within window and returns the new count
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a fixed-window counter shared by every instance
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a counter backed by Redis
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr implements Counter
func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	return incr.Val(), nil
}

// MemoryCounter keeps per-process windows, used while Redis is unavailable
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count int64
	reset time.Time
}

// NewMemoryCounter creates an in-process counter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*memoryWindow), now: time.Now}
}

// Incr implements Counter
func (m *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &memoryWindow{reset: now.Add(window)}
		m.windows[key] = w
	}
	w.count++

	// Drop expired windows so the map stays bounded by active users
	if len(m.windows) > 10000 {
		for k, other := range m.windows {
			if !now.Before(other.reset) {
				delete(m.windows, k)
			}
		}
	}
	return w.count, nil
}

// RateLimiter limits mutations per user, falling back to an in-memory counter when Redis fails
type RateLimiter struct {
	primary  Counter
	fallback Counter
	requests int
	window   time.Duration
	metrics  *metrics.Metrics
}

// NewRateLimiter creates a new rate limiter. fallback may be nil to fail open.
func NewRateLimiter(primary, fallback Counter, requests int, window time.Duration, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		primary:  primary,
		fallback: fallback,
		requests: requests,
		window:   window,
		metrics:  m,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID := GetUserID(c); userID != uuid.Nil {
			identifier = "user:" + userID.String()
		}
		endpoint := c.FullPath()
		key := fmt.Sprintf("ratelimit:%s:%s", identifier, endpoint)

		count, err := rl.count(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}
		if rl.metrics != nil {
			rl.metrics.RecordRateLimitHit(endpoint)
		}

		remaining := int64(rl.requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.requests) {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlocked(endpoint)
			}
			response.AbortWithError(c, appErrors.RateLimitExceededError())
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) count(ctx context.Context, key string) (int64, error) {
	count, err := rl.primary.Incr(ctx, key, rl.window)
	if err == nil {
		return count, nil
	}
	if rl.fallback == nil {
		logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
		return 0, err
	}
	logger.Debug("Rate limit falling back to memory", zap.Error(err))
	return rl.fallback.Incr(ctx, key, rl.window)
}
