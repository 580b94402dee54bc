package database

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableRedis() *RedisClient {
	return &RedisClient{Client: redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})}
}

func TestRedisClient_DegradedShortCircuits(t *testing.T) {
	r := unreachableRedis()
	defer r.Close()
	r.setDegraded(true)
	ctx := context.Background()

	_, err := r.SafeGet(ctx, "k").Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degraded mode, get skipped")

	n, err := r.SafeIncrBy(ctx, "k", 1).Result()
	require.Error(t, err)
	assert.Zero(t, n)

	members, err := r.SafeSMembers(ctx, "k").Result()
	require.Error(t, err)
	assert.Empty(t, members)
}

func TestRedisClient_HealthCheckFlipsDegraded(t *testing.T) {
	r := unreachableRedis()
	defer r.Close()

	assert.False(t, r.IsDegraded())
	require.Error(t, r.HealthCheck(context.Background()))
	assert.True(t, r.IsDegraded())
}
