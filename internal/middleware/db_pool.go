package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
	"rendezvous-backend/pkg/response"
)

// PoolStats exposes pool statistics; *pgxpool.Pool satisfies it
type PoolStats interface {
	Stat() *pgxpool.Stat
}

// DBPoolLimiter sheds API requests while the CockroachDB pool is nearly exhausted
type DBPoolLimiter struct {
	pool      PoolStats
	threshold float64
}

// NewDBPoolLimiter creates a limiter that rejects requests once the share of
// acquired connections reaches threshold (0 selects 0.9)
func NewDBPoolLimiter(pool PoolStats, threshold float64) *DBPoolLimiter {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}
	return &DBPoolLimiter{pool: pool, threshold: threshold}
}

// Usage returns the share of acquired connections
func (dpl *DBPoolLimiter) Usage() float64 {
	stat := dpl.pool.Stat()
	if stat.MaxConns() == 0 {
		return 0
	}
	return float64(stat.AcquiredConns()) / float64(stat.MaxConns())
}

// Middleware returns a Gin middleware for database connection pool protection
func (dpl *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		usage := dpl.Usage()
		metrics.DBPoolUsage.Set(usage)
		if usage >= dpl.threshold {
			stat := dpl.pool.Stat()
			logger.Warn("Database connection pool exhausted",
				zap.Int32("max_conns", stat.MaxConns()),
				zap.Int32("acquired_conns", stat.AcquiredConns()),
				zap.Float64("pool_usage", usage))
			metrics.DBPoolShedTotal.Inc()
			response.AbortWithError(c, appErrors.ServiceUnavailableError("Service temporarily unavailable"))
			return
		}
		c.Next()
	}
}
