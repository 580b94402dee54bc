package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lexhub-backend/internal/middleware"
	"lexhub-backend/internal/service/identity"
	"lexhub-backend/pkg/response"
)

// TokenService issues and revokes principal tokens
type TokenService interface {
	IssueAnonymous(ctx context.Context, displayName string) (*identity.Token, error)
	Revoke(ctx context.Context, token string) error
}

// Handler handles authentication HTTP requests
type Handler struct {
	tokens TokenService
}

// NewHandler creates a new auth handler
func NewHandler(tokens TokenService) *Handler {
	return &Handler{tokens: tokens}
}

// AnonymousRequest represents an anonymous sign-in
type AnonymousRequest struct {
	DisplayName string `json:"display_name" binding:"max=64"`
}

// Anonymous issues a token for a new anonymous client
// POST /v1/auth/anonymous
func (h *Handler) Anonymous(c *gin.Context) {
	var req AnonymousRequest
	// an empty body is a guest without a name
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	token, err := h.tokens.IssueAnonymous(c.Request.Context(), req.DisplayName)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, token)
}

// Logout revokes the caller's token
// POST /v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if err := h.tokens.Revoke(c.Request.Context(), token); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the authenticated principal
// GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	response.Success(c, http.StatusOK, p)
}
