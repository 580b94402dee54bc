package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lexhub-backend/internal/database"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/push"
)

// PushTokenExpiry bounds how long an unrefreshed device registration lives
const PushTokenExpiry = 30 * 24 * time.Hour

// PushTokenRepository stores push tokens in Redis
type PushTokenRepository struct {
	client *database.RedisClient
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(token string) string     { return fmt.Sprintf("push:token:%s", token) }
func userTokensKey(user string) string { return fmt.Sprintf("push:user:%s:tokens", user) }

// Store saves a token and indexes it under its user
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := r.client.SafeSet(ctx, tokenKey(token.Token), data, PushTokenExpiry).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, userTokensKey(token.UserID), token.Token).Err(); err != nil {
		return fmt.Errorf("failed to add token to user set: %w", err)
	}
	if err := r.client.SafeExpire(ctx, userTokensKey(token.UserID), PushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on user tokens set",
			zap.String("user_id", token.UserID),
			zap.Error(err))
	}
	return nil
}

// GetByToken returns nil, nil when the token is unknown
func (r *PushTokenRepository) GetByToken(ctx context.Context, token string) (*push.Token, error) {
	data, err := r.client.SafeGet(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	var t push.Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &t, nil
}

// GetByUserID returns every stored token of a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID string) ([]*push.Token, error) {
	members, err := r.client.SafeSMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}
	var result []*push.Token
	for _, member := range members {
		t, err := r.GetByToken(ctx, member)
		if err != nil {
			logger.Warn("Failed to get token", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if t == nil {
			// expired entry
			r.client.SafeSRem(ctx, userTokensKey(userID), member)
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// Delete removes a token
func (r *PushTokenRepository) Delete(ctx context.Context, token string) error {
	t, err := r.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if err := r.client.SafeSRem(ctx, userTokensKey(t.UserID), token).Err(); err != nil {
		return fmt.Errorf("failed to remove token from user set: %w", err)
	}
	if err := r.client.SafeDel(ctx, tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// MarkInactive keeps the registration but stops sending to it
func (r *PushTokenRepository) MarkInactive(ctx context.Context, token string) error {
	t, err := r.GetByToken(ctx, token)
	if err != nil || t == nil {
		return err
	}
	t.Active = false
	t.UpdatedAt = time.Now().Unix()
	return r.Store(ctx, t)
}

var _ push.TokenRepository = (*PushTokenRepository)(nil)
