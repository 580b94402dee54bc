package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
)

// TimeoutMiddleware bounds the request context of every non-streaming request
type TimeoutMiddleware struct {
	timeout time.Duration
}

// NewTimeoutMiddleware creates a new timeout middleware
func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TimeoutMiddleware{timeout: timeout}
}

// Middleware returns a Gin middleware for timeout protection. Websocket
// upgrades are long-lived and skip it.
func (tm *TimeoutMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), tm.timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if ctx.Err() != context.DeadlineExceeded {
			return
		}
		duration := time.Since(start)
		metrics.RecordRequestTimeout(duration, c.Request.Method, c.FullPath())
		logger.Warn("Request timed out",
			zap.Duration("timeout", tm.timeout),
			zap.Duration("duration", duration),
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
