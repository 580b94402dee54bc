package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"lexhub-backend/internal/middleware"
	"lexhub-backend/pkg/response"
)

// Tracker records principal presence
type Tracker interface {
	Heartbeat(ctx context.Context, userID string) error
	GoOffline(ctx context.Context, userID string) error
}

// Handler handles presence HTTP requests
type Handler struct {
	tracker Tracker
}

// NewHandler creates a new presence handler
func NewHandler(tracker Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// Heartbeat marks the caller online for another presence period
// POST /v1/presence/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	if err := h.tracker.Heartbeat(c.Request.Context(), p.ID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"online": true})
}

// Offline marks the caller offline
// DELETE /v1/presence
func (h *Handler) Offline(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	if err := h.tracker.GoOffline(c.Request.Context(), p.ID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"online": false})
}
