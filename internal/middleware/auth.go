package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"lexhub-backend/internal/domain"
	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/response"
)

const principalKey = "principal"

// TokenValidator verifies an access token and returns its principal.
// Revocation is checked by the validator.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (domain.Principal, error)
}

// AuthMiddleware creates a Gin middleware that validates JWT tokens.
// The token comes from the Authorization header or, for websocket upgrades
// where browsers cannot set headers, the "token" query parameter.
// On success it sets user_id, display_name, role and the principal.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		p, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			if apperrors.IsAppError(err) {
				appErr := apperrors.GetAppError(err)
				response.Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
			} else {
				response.Unauthorized(c, "Invalid token")
			}
			c.Abort()
			return
		}

		c.Set("user_id", p.ID)
		c.Set("display_name", p.DisplayName)
		c.Set("role", string(p.Role))
		c.Set(principalKey, p)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return token, true
	}
	return "", false
}

// RequireStaff rejects principals that do not take support traffic
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok || !p.Role.IsStaff() {
			response.Forbidden(c, "Staff role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the principal set by AuthMiddleware
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return domain.Principal{}, false
	}
	p, ok := v.(domain.Principal)
	return p, ok
}
