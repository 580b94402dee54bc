package redis

import (
	"context"
	"fmt"
	"time"

	"lexhub-backend/internal/database"
)

// TokenRepository keeps the revocation list of principal tokens
type TokenRepository struct {
	client *database.RedisClient
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(client *database.RedisClient) *TokenRepository {
	return &TokenRepository{client: client}
}

func revokedKey(jti string) string { return fmt.Sprintf("token:revoked:%s", jti) }

// Revoke blacklists a token id until the token would have expired anyway
func (r *TokenRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.SafeSet(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token id is blacklisted
func (r *TokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.SafeExists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}
