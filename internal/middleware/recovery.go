package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/response"
)

// Recovery turns a handler panic into a 500 envelope
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(c.Request.Context()).Error("Panic recovered",
				zap.Any("panic", rec),
				zap.String("path", c.Request.URL.Path),
				zap.ByteString("stack", debug.Stack()))
			if !c.Writer.Written() {
				response.InternalError(c, "Internal server error")
			}
			c.Abort()
		}()
		c.Next()
	}
}

// HealthProbe reports whether one backing dependency is degraded
type HealthProbe struct {
	Name     string
	Degraded func() bool
}

// HealthCheck reports liveness plus the state of each probe. A degraded
// dependency does not fail the check; the service keeps serving without it.
func HealthCheck(serviceName string, probes ...HealthProbe) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		deps := make(gin.H, len(probes))
		for _, p := range probes {
			state := "ok"
			if p.Degraded() {
				state, status = "degraded", "degraded"
			}
			deps[p.Name] = state
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       status,
			"service":      serviceName,
			"dependencies": deps,
		})
	}
}
