package push

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lexhub-backend/internal/middleware"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/push"
	"lexhub-backend/pkg/response"
)

// TokenService manages device registrations
type TokenService interface {
	RegisterToken(ctx context.Context, token *push.Token) error
	UnregisterUserToken(ctx context.Context, userID, token string) (bool, error)
	UserTokens(ctx context.Context, userID string) ([]*push.Token, error)
}

// Handler handles push notification HTTP requests
type Handler struct {
	pushService TokenService
}

// NewHandler creates a new push notification handler
func NewHandler(pushService TokenService) *Handler {
	return &Handler{pushService: pushService}
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	Token    string         `json:"token" binding:"required,max=4096"`
	Type     push.TokenType `json:"type" binding:"required,oneof=fcm apns web"`
	Platform string         `json:"platform" binding:"omitempty,oneof=ios android web"`
}

// UnregisterTokenRequest represents request to remove a push token
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// tokenView never echoes full device tokens
type tokenView struct {
	TokenSuffix string         `json:"token_suffix"`
	Type        push.TokenType `json:"type"`
	Platform    string         `json:"platform,omitempty"`
	Active      bool           `json:"active"`
	UpdatedAt   int64          `json:"updated_at"`
}

// RegisterToken registers a push token for the authenticated principal so
// calls can ring while the app is closed
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token := &push.Token{
		UserID:   p.ID,
		Token:    req.Token,
		Type:     req.Type,
		Platform: req.Platform,
	}
	if err := h.pushService.RegisterToken(c.Request.Context(), token); err != nil {
		logger.FromContext(c.Request.Context()).Error("Failed to register push token",
			zap.String("user_id", p.ID),
			zap.Error(err))
		response.InternalError(c, "Failed to register token")
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"message": "Push token registered"})
}

// UnregisterToken removes one of the caller's push tokens
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	removed, err := h.pushService.UnregisterUserToken(c.Request.Context(), p.ID, req.Token)
	if err != nil {
		response.InternalError(c, "Failed to unregister token")
		return
	}
	if !removed {
		response.NotFound(c, "Token not found")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Push token removed"})
}

// GetTokens lists the caller's registered devices
// GET /v1/push/tokens
func (h *Handler) GetTokens(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	tokens, err := h.pushService.UserTokens(c.Request.Context(), p.ID)
	if err != nil {
		response.InternalError(c, "Failed to get tokens")
		return
	}

	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		suffix := t.Token
		if len(suffix) > 8 {
			suffix = suffix[len(suffix)-8:]
		}
		views = append(views, tokenView{
			TokenSuffix: suffix,
			Type:        t.Type,
			Platform:    t.Platform,
			Active:      t.Active,
			UpdatedAt:   t.UpdatedAt,
		})
	}
	response.Success(c, http.StatusOK, gin.H{"tokens": views, "count": len(views)})
}
