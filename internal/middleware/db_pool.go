package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/response"
)

// PoolUsage reports how much of a connection pool is checked out (0-1)
type PoolUsage interface {
	Utilization() float64
}

// DBPoolLimiter sheds requests that need CockroachDB when the pool is
// nearly exhausted
type DBPoolLimiter struct {
	pool      PoolUsage
	threshold float64
}

// NewDBPoolLimiter rejects at threshold usage; out of range means 0.9
func NewDBPoolLimiter(pool PoolUsage, threshold float64) *DBPoolLimiter {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}
	return &DBPoolLimiter{pool: pool, threshold: threshold}
}

func (l *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if usage := l.pool.Utilization(); usage >= l.threshold {
			logger.Warn("Database connection pool exhausted",
				zap.Float64("pool_usage", usage),
				zap.String("path", c.FullPath()))
			response.FromError(c, apperrors.ServiceUnavailableError("Service temporarily overloaded"))
			c.Abort()
			return
		}
		c.Next()
	}
}
