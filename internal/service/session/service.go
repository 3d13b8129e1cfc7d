// Package session resolves session tokens to identities and memoizes the result
// for a short time, so push connections and mutations do not hit Redis and the
// database on every request.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/repository/cockroach"
	redisRepo "rendezvous-backend/internal/repository/redis"
	"rendezvous-backend/pkg/cache"
	"rendezvous-backend/pkg/constants"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/jwt"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
)

// TokenValidator verifies a token signature and expiry
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// SessionRepository reads sessions and the revocation list
type SessionRepository interface {
	GetSession(ctx context.Context, sessionID string) (*redisRepo.Session, error)
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// UserRepository loads the user behind a session
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Service is the session cache
type Service struct {
	tokens   TokenValidator
	sessions SessionRepository
	users    UserRepository
	cache    *cache.MemoryCache
	ttl      time.Duration
	now      func() time.Time
}

type cachedIdentity struct {
	identity  domain.Identity
	expiresAt time.Time
}

// NewService creates a session cache holding identities for ttl
func NewService(tokens TokenValidator, sessions SessionRepository, users UserRepository, store *cache.MemoryCache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = constants.SessionCacheTTL
	}
	return &Service{
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		cache:    store,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Fingerprint is the cache key for a token. Raw tokens are never stored.
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolve returns the identity behind token. Failed lookups are not cached.
func (s *Service) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		metrics.ChatSessionCacheLookupsTotal.WithLabelValues("invalid").Inc()
		return nil, appErrors.UnauthorizedError("Session token required")
	}

	key := Fingerprint(token)
	if v, ok := s.cache.Get(key); ok {
		entry := v.(*cachedIdentity)
		if s.now().Before(entry.expiresAt) {
			metrics.ChatSessionCacheLookupsTotal.WithLabelValues("hit").Inc()
			identity := entry.identity
			return &identity, nil
		}
		s.cache.Delete(key)
	}

	identity, expiresAt, err := s.load(ctx, token)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrCodeServiceUnavail) {
			metrics.ChatSessionCacheLookupsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.ChatSessionCacheLookupsTotal.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}
	metrics.ChatSessionCacheLookupsTotal.WithLabelValues("miss").Inc()

	ttl := s.ttl
	if remaining := expiresAt.Sub(s.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 {
		s.cache.Set(key, &cachedIdentity{identity: *identity, expiresAt: s.now().Add(ttl)}, ttl)
	}
	return identity, nil
}

// Invalidate drops any cached identity for token
func (s *Service) Invalidate(token string) {
	s.cache.Delete(Fingerprint(token))
}

func (s *Service) load(ctx context.Context, token string) (*domain.Identity, time.Time, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, time.Time{}, appErrors.ExpiredTokenError()
		}
		return nil, time.Time{}, appErrors.InvalidTokenError("Invalid session token")
	}

	revoked, err := s.sessions.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		// Fail open: the signature and expiry already passed
		logger.Warn("Revocation check failed, allowing token",
			zap.String("user_id", claims.UserID.String()),
			zap.Error(err))
	} else if revoked {
		return nil, time.Time{}, appErrors.InvalidTokenError("Session token revoked")
	}

	expiresAt := s.now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	if claims.SessionID != "" {
		sess, err := s.sessions.GetSession(ctx, claims.SessionID)
		if err != nil {
			if errors.Is(err, redisRepo.ErrSessionNotFound) {
				return nil, time.Time{}, appErrors.SessionExpiredError()
			}
			return nil, time.Time{}, appErrors.ServiceUnavailableError("Session store unavailable")
		}
		if sess.UserID != claims.UserID {
			return nil, time.Time{}, appErrors.InvalidTokenError("Session does not belong to token subject")
		}
		if !sess.ExpiresAt.IsZero() {
			if !s.now().Before(sess.ExpiresAt) {
				return nil, time.Time{}, appErrors.SessionExpiredError()
			}
			if sess.ExpiresAt.Before(expiresAt) {
				expiresAt = sess.ExpiresAt
			}
		}
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, time.Time{}, appErrors.UnauthorizedError("User no longer exists")
		}
		return nil, time.Time{}, appErrors.ServiceUnavailableError("User store unavailable")
	}

	return &domain.Identity{
		UserID:      user.UserID,
		SessionID:   claims.SessionID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	}, expiresAt, nil
}
