package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
)

// TimeoutConfig holds timeout configuration
type TimeoutConfig struct {
	DefaultTimeout time.Duration
	// SkipPrefixes lists paths that hold the connection open (push streams)
	SkipPrefixes []string
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{DefaultTimeout: 30 * time.Second}
}

// TimeoutMiddleware bounds the request context of ordinary API calls
type TimeoutMiddleware struct {
	config *TimeoutConfig
}

// NewTimeoutMiddleware creates a new timeout middleware
func NewTimeoutMiddleware(config *TimeoutConfig) *TimeoutMiddleware {
	if config == nil {
		config = DefaultTimeoutConfig()
	}
	return &TimeoutMiddleware{config: config}
}

func (tm *TimeoutMiddleware) skip(path string) bool {
	for _, prefix := range tm.config.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware returns a Gin middleware for timeout protection
func (tm *TimeoutMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tm.skip(c.Request.URL.Path) {
			c.Next()
			return
		}

		timeout := tm.config.DefaultTimeout
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.RequestTimeoutTotal.Inc()
			logger.Warn("Request timed out",
				zap.Duration("timeout", timeout),
				zap.Duration("duration", time.Since(start)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path))

			if !c.Writer.Written() {
				c.JSON(http.StatusGatewayTimeout, gin.H{
					"error": "Request timeout",
					"code":  "REQUEST_TIMEOUT",
				})
			}
			c.Abort()
		}
	}
}
