package call

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/middleware"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/pkg/audit"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/response"
)

// Router picks the staff member for a support call
type Router interface {
	Route(ctx context.Context, role domain.Role) (*domain.RouteResult, error)
}

// Handler handles call HTTP requests. Signaling itself happens between
// the peers over the channel; these endpoints route and supervise.
type Handler struct {
	ch     signaling.Channel
	router Router
	audit  *audit.Logger
}

// NewHandler creates a new call handler; auditLog may be nil
func NewHandler(ch signaling.Channel, router Router, auditLog *audit.Logger) *Handler {
	return &Handler{ch: ch, router: router, audit: auditLog}
}

// ActiveCall is the supervisor view of a call record. SDP stays out.
type ActiveCall struct {
	ID           string          `json:"id"`
	CallerID     string          `json:"caller_id"`
	CallerName   string          `json:"caller_name"`
	TargetUserID string          `json:"target_user_id"`
	CallType     domain.CallType `json:"call_type"`
	State        string          `json:"state"` // ringing, connected
	AnsweredBy   string          `json:"answered_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Route returns the staff member a client should call
// GET /v1/calls/route?role=advocate
func (h *Handler) Route(c *gin.Context) {
	role := domain.Role(c.DefaultQuery("role", string(domain.RoleStaff)))
	res, err := h.router.Route(c.Request.Context(), role)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// ListActive lists every call record with an offer
// GET /v1/calls/active
func (h *Handler) ListActive(c *gin.Context) {
	docs, err := h.ch.List(c.Request.Context(), signaling.Collection(domain.CallsCollection))
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("Failed to list calls", zap.Error(err))
		response.InternalError(c, "Failed to list calls")
		return
	}

	calls := make([]ActiveCall, 0, len(docs))
	for _, doc := range docs {
		rec := domain.ParseCallRecord(doc)
		if rec.Offer == nil {
			continue
		}
		state := "connected"
		if rec.Ringing() {
			state = "ringing"
		}
		calls = append(calls, ActiveCall{
			ID:           rec.ID,
			CallerID:     rec.Offer.CallerID,
			CallerName:   rec.Offer.CallerName,
			TargetUserID: rec.Offer.TargetUserID,
			CallType:     rec.Offer.CallType,
			State:        state,
			AnsweredBy:   rec.AnsweredBy,
			CreatedAt:    rec.Offer.CreatedAt,
		})
	}
	response.Success(c, http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}

// ForceHangup deletes a call record; both peers see a remote hangup
// DELETE /v1/calls/:id
func (h *Handler) ForceHangup(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok || p.Role != domain.RoleAdmin {
		response.Forbidden(c, "Admin privileges required")
		return
	}

	callID := c.Param("id")
	ctx := logger.WithCallID(c.Request.Context(), callID)
	if err := h.ch.Delete(ctx, domain.CallPath(callID)); err != nil {
		logger.FromContext(ctx).Error("Failed to delete call record", zap.Error(err))
		response.InternalError(c, "Failed to end call")
		return
	}

	h.audit.Log(ctx, &audit.Event{
		ActorID:   p.ID,
		EventType: audit.EventCallForceHangup,
		Resource:  callID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	logger.FromContext(ctx).Info("Call force-ended", zap.String("admin_id", p.ID))
	response.Success(c, http.StatusOK, gin.H{"message": "Call ended"})
}
