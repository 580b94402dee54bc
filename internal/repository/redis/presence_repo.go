package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lexhub-backend/internal/database"
)

// PresenceTTL is how long a heartbeat keeps a principal online
const PresenceTTL = 2 * time.Minute

// PresenceRepository tracks who is online and how many live conversations
// each staff member is handling
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID string) string { return fmt.Sprintf("presence:%s", userID) }
func loadKey(userID string) string     { return fmt.Sprintf("load:%s", userID) }

// SetOnline marks a principal online, or refreshes it
func (r *PresenceRepository) SetOnline(ctx context.Context, userID string) error {
	if err := r.client.SafeSet(ctx, presenceKey(userID), "online", PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, "presence:online", userID).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetOffline marks a principal offline
func (r *PresenceRepository) SetOffline(ctx context.Context, userID string) error {
	if err := r.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SafeSRem(ctx, "presence:online", userID).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// IsOnline checks whether a principal has a live heartbeat
func (r *PresenceRepository) IsOnline(ctx context.Context, userID string) (bool, error) {
	exists, err := r.client.SafeExists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// OnlineAmong filters userIDs down to the ones currently online
func (r *PresenceRepository) OnlineAmong(ctx context.Context, userIDs []string) (map[string]bool, error) {
	online := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	vals, err := r.client.SafeMGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	for i, v := range vals {
		if v != nil {
			online[userIDs[i]] = true
		}
	}
	return online, nil
}

// AdjustLoad changes a staff member's live conversation count by delta.
// The counter never goes below zero.
func (r *PresenceRepository) AdjustLoad(ctx context.Context, userID string, delta int64) (int64, error) {
	n, err := r.client.SafeIncrBy(ctx, loadKey(userID), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to adjust load: %w", err)
	}
	if n < 0 {
		if err := r.client.SafeSet(ctx, loadKey(userID), 0, 0).Err(); err != nil {
			return 0, fmt.Errorf("failed to reset load: %w", err)
		}
		n = 0
	}
	return n, nil
}

// Loads returns the live conversation count of each user; missing counters read as zero
func (r *PresenceRepository) Loads(ctx context.Context, userIDs []string) (map[string]int64, error) {
	loads := make(map[string]int64, len(userIDs))
	if len(userIDs) == 0 {
		return loads, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = loadKey(id)
	}
	vals, err := r.client.SafeMGet(ctx, keys...).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read load: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var n int64
		if _, err := fmt.Sscan(s, &n); err == nil {
			loads[userIDs[i]] = n
		}
	}
	return loads, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
