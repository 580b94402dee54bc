package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/jwt"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
)

// AnonymousPrefix marks principal ids minted for visitors without an account
const AnonymousPrefix = "anon-"

// RevocationStore keeps revoked token ids until they expire
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// PresenceRepository marks principals online and offline
type PresenceRepository interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// Service issues and checks principal tokens
type Service struct {
	jwtManager *jwt.JWTManager
	revoked    RevocationStore
	presence   PresenceRepository
	now        func() time.Time
}

// NewService creates a new identity service. presence may be nil.
func NewService(jwtManager *jwt.JWTManager, revoked RevocationStore, presence PresenceRepository) *Service {
	return &Service{
		jwtManager: jwtManager,
		revoked:    revoked,
		presence:   presence,
		now:        time.Now,
	}
}

// Token is an issued principal token
type Token struct {
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Principal   domain.Principal `json:"principal"`
}

// IssueAnonymous mints a fresh anonymous principal. Anonymous visitors are
// always clients; the display name defaults to "Guest".
func (s *Service) IssueAnonymous(ctx context.Context, displayName string) (*Token, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "Guest"
	}
	if len(displayName) > 64 {
		return nil, apperrors.ValidationError("display name must be at most 64 characters")
	}

	p := domain.Principal{
		ID:          AnonymousPrefix + uuid.NewString(),
		DisplayName: displayName,
		Role:        domain.RoleClient,
		Anonymous:   true,
	}
	return s.issue(ctx, p, "anonymous")
}

// IssueNamed signs a token for a known principal (staff agents, the call agent)
func (s *Service) IssueNamed(ctx context.Context, p domain.Principal) (*Token, error) {
	if p.ID == "" {
		return nil, apperrors.MissingFieldError("id")
	}
	if !p.Role.Valid() {
		return nil, apperrors.ValidationError(fmt.Sprintf("unknown role %q", p.Role))
	}
	p.Anonymous = false
	return s.issue(ctx, p, "named")
}

func (s *Service) issue(ctx context.Context, p domain.Principal, kind string) (*Token, error) {
	token, expiresAt, err := s.jwtManager.GenerateAccessToken(p.ID, p.DisplayName, string(p.Role), p.Anonymous)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	metrics.IdentityTokensIssuedTotal.WithLabelValues(kind).Inc()
	logger.FromContext(ctx).Info("Principal token issued",
		zap.String("user_id", p.ID),
		zap.String("role", string(p.Role)),
		zap.Bool("anonymous", p.Anonymous))
	return &Token{AccessToken: token, ExpiresAt: expiresAt, Principal: p}, nil
}

// Validate checks a bearer token and returns its principal
func (s *Service) Validate(ctx context.Context, tokenString string) (domain.Principal, error) {
	claims, err := s.jwtManager.ValidateToken(tokenString)
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			metrics.IdentityTokenRejectedTotal.WithLabelValues("expired").Inc()
			return domain.Principal{}, apperrors.ExpiredTokenError()
		}
		metrics.IdentityTokenRejectedTotal.WithLabelValues("invalid").Inc()
		return domain.Principal{}, apperrors.InvalidTokenError("Invalid or malformed token")
	}

	if s.revoked != nil && claims.ID != "" {
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			// fail open
			logger.FromContext(ctx).Warn("Failed to check token revocation",
				zap.String("user_id", claims.UserID),
				zap.Error(err))
		} else if revoked {
			metrics.IdentityTokenRejectedTotal.WithLabelValues("revoked").Inc()
			return domain.Principal{}, apperrors.InvalidTokenError("Token has been revoked")
		}
	}

	return domain.Principal{
		ID:          claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        domain.Role(claims.Role),
		Anonymous:   claims.Anonymous,
	}, nil
}

// Revoke blacklists a token for the rest of its lifetime and marks its
// principal offline
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.ValidateToken(tokenString)
	if err != nil {
		// an unusable token needs no revocation
		return nil
	}
	if s.revoked != nil && claims.ExpiresAt != nil && claims.ID != "" {
		if err := s.revoked.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
		metrics.IdentityTokensRevokedTotal.Inc()
	}
	if s.presence != nil {
		if err := s.presence.SetOffline(ctx, claims.UserID); err != nil {
			logger.FromContext(ctx).Warn("Failed to mark principal offline",
				zap.String("user_id", claims.UserID),
				zap.Error(err))
		}
	}
	return nil
}

// Heartbeat keeps a principal online
func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	if s.presence == nil {
		return nil
	}
	if err := s.presence.SetOnline(ctx, userID); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	metrics.PresenceHeartbeatsTotal.Inc()
	return nil
}

// GoOffline marks a principal offline
func (s *Service) GoOffline(ctx context.Context, userID string) error {
	if s.presence == nil {
		return nil
	}
	return s.presence.SetOffline(ctx, userID)
}
