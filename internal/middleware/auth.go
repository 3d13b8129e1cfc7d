package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/response"
)

const (
	identityKey = "identity"
	userIDKey   = "user_id"
)

// IdentityResolver turns a bearer token into the authenticated identity
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
}

// AuthMiddleware resolves the bearer token through the session cache and
// stores the identity on the gin context
func AuthMiddleware(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := RequestToken(c, false)
		if token == "" {
			response.AbortWithError(c, appErrors.UnauthorizedError("Authorization token required"))
			return
		}

		identity, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set(identityKey, identity)
		c.Set(userIDKey, identity.UserID)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), identity.UserID.String()))
		c.Next()
	}
}

// RequestToken returns the bearer token of the request. With allowQuery the
// token may also arrive as ?token=, since EventSource and browser WebSocket
// clients cannot set headers.
func RequestToken(c *gin.Context, allowQuery bool) string {
	if token := bearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetIdentity returns the identity set by AuthMiddleware
func GetIdentity(c *gin.Context) (*domain.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*domain.Identity)
	return identity, ok
}

// GetUserID returns the authenticated user's ID, or uuid.Nil outside AuthMiddleware
func GetUserID(c *gin.Context) uuid.UUID {
	if identity, ok := GetIdentity(c); ok {
		return identity.UserID
	}
	return uuid.Nil
}
