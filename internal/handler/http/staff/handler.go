package staff

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/middleware"
	"lexhub-backend/internal/repository/cockroach"
	"lexhub-backend/internal/service/identity"
	"lexhub-backend/pkg/audit"
	"lexhub-backend/pkg/response"
	"lexhub-backend/pkg/sanitize"
)

// Directory is the support roster
type Directory interface {
	Upsert(ctx context.Context, m *domain.StaffMember) error
	GetByID(ctx context.Context, userID string) (*domain.StaffMember, error)
	ListActiveByRole(ctx context.Context, role domain.Role) ([]*domain.StaffMember, error)
	SetActive(ctx context.Context, userID string, active bool) error
}

// TokenIssuer signs tokens for roster members
type TokenIssuer interface {
	IssueNamed(ctx context.Context, p domain.Principal) (*identity.Token, error)
}

// Handler handles roster administration
type Handler struct {
	directory Directory
	tokens    TokenIssuer
	audit     *audit.Logger
}

// NewHandler creates a new staff handler; auditLog may be nil
func NewHandler(directory Directory, tokens TokenIssuer, auditLog *audit.Logger) *Handler {
	return &Handler{directory: directory, tokens: tokens, audit: auditLog}
}

func (h *Handler) record(c *gin.Context, kind audit.EventType, resource, details string) {
	p, _ := middleware.GetPrincipal(c)
	h.audit.Log(c.Request.Context(), &audit.Event{
		ActorID:   p.ID,
		EventType: kind,
		Resource:  resource,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Details:   details,
	})
}

// UpsertRequest adds or updates a roster entry
type UpsertRequest struct {
	DisplayName string      `json:"display_name" binding:"required,max=64"`
	Role        domain.Role `json:"role" binding:"required,oneof=admin staff advocate provider"`
	Department  string      `json:"department" binding:"max=64"`
}

// RequireAdmin rejects everyone but admins
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.GetPrincipal(c)
		if !ok || p.Role != domain.RoleAdmin {
			response.Forbidden(c, "Admin privileges required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Upsert adds or updates a roster member
// PUT /v1/admin/staff/:id
func (h *Handler) Upsert(c *gin.Context) {
	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	m := &domain.StaffMember{
		UserID:      c.Param("id"),
		DisplayName: sanitize.DisplayName(req.DisplayName),
		Role:        req.Role,
		Department:  sanitize.DisplayName(req.Department),
		Active:      true,
	}
	if m.DisplayName == "" {
		response.ValidationError(c, "display_name is empty")
		return
	}
	if err := h.directory.Upsert(c.Request.Context(), m); err != nil {
		response.FromError(c, err)
		return
	}
	h.record(c, audit.EventStaffUpsert, m.UserID, string(m.Role))
	response.Success(c, http.StatusOK, m)
}

// List returns the active members of a role
// GET /v1/admin/staff?role=advocate
func (h *Handler) List(c *gin.Context) {
	role := domain.Role(c.DefaultQuery("role", string(domain.RoleStaff)))
	if !role.IsStaff() {
		response.ValidationError(c, "role does not take support traffic")
		return
	}
	members, err := h.directory.ListActiveByRole(c.Request.Context(), role)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if members == nil {
		members = []*domain.StaffMember{}
	}
	response.Success(c, http.StatusOK, gin.H{"staff": members, "count": len(members)})
}

// Deactivate takes a member out of routing
// POST /v1/admin/staff/:id/deactivate
func (h *Handler) Deactivate(c *gin.Context) {
	err := h.directory.SetActive(c.Request.Context(), c.Param("id"), false)
	if errors.Is(err, cockroach.ErrStaffNotFound) {
		response.NotFound(c, "Staff member not found")
		return
	}
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.record(c, audit.EventStaffDeactivate, c.Param("id"), "")
	response.Success(c, http.StatusOK, gin.H{"message": "Staff member deactivated"})
}

// IssueToken signs a token for an active roster member, used to sign in
// staff consoles and call agents
// POST /v1/admin/staff/:id/token
func (h *Handler) IssueToken(c *gin.Context) {
	m, err := h.directory.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, cockroach.ErrStaffNotFound) {
		response.NotFound(c, "Staff member not found")
		return
	}
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !m.Active {
		response.Forbidden(c, "Staff member is deactivated")
		return
	}

	token, err := h.tokens.IssueNamed(c.Request.Context(), domain.Principal{
		ID:          m.UserID,
		DisplayName: m.DisplayName,
		Role:        m.Role,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.record(c, audit.EventStaffTokenIssued, m.UserID, token.ExpiresAt.UTC().Format(time.RFC3339))
	response.Success(c, http.StatusCreated, token)
}

// AuditLog lists the audit events of one UTC day, newest first
// GET /v1/admin/audit?date=2024-05-01&limit=100
func (h *Handler) AuditLog(c *gin.Context) {
	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.ValidationError(c, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.audit.Recent(c.Request.Context(), day, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	response.Success(c, http.StatusOK, gin.H{"events": events, "count": len(events)})
}
