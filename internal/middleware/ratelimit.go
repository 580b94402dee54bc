package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lexhub-backend/internal/database"
	"lexhub-backend/pkg/logger"
)

// RateLimiter is a fixed-window limiter counted in Redis. While Redis is
// degraded it counts in process memory instead.
type RateLimiter struct {
	redis    *database.RedisClient
	requests int
	window   time.Duration
	prefix   string
	now      func() time.Time

	mu    sync.Mutex
	local map[string]*localWindow
}

type localWindow struct {
	start time.Time
	count int
}

// NewRateLimiter allows requests per window for each user (or IP when
// unauthenticated). prefix separates limiters sharing one Redis.
func NewRateLimiter(redis *database.RedisClient, prefix string, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:    redis,
		requests: requests,
		window:   window,
		prefix:   prefix,
		now:      time.Now,
		local:    make(map[string]*localWindow),
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID := c.GetString("user_id"); userID != "" {
			identifier = "user:" + userID
		}

		count, resetAt := rl.hit(c.Request.Context(), identifier)

		remaining := rl.requests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if count > rl.requests {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "Rate limit exceeded",
				"limit":    rl.requests,
				"reset_at": resetAt.Unix(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) hit(ctx context.Context, identifier string) (int, time.Time) {
	now := rl.now()
	windowStart := now.Truncate(rl.window)
	resetAt := windowStart.Add(rl.window)

	if rl.redis != nil && !rl.redis.IsDegraded() {
		key := fmt.Sprintf("ratelimit:%s:%s:%d", rl.prefix, identifier, windowStart.Unix())
		count, err := rl.redis.SafeIncrBy(ctx, key, 1).Result()
		if err == nil {
			if count == 1 {
				rl.redis.SafeExpire(ctx, key, rl.window)
			}
			return int(count), resetAt
		}
		logger.Warn("Rate limit counter unavailable, counting locally",
			zap.String("limiter", rl.prefix),
			zap.Error(err))
	}
	return rl.hitLocal(identifier, windowStart), resetAt
}

func (rl *RateLimiter) hitLocal(identifier string, windowStart time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.local[identifier]
	if !ok || !w.start.Equal(windowStart) {
		if len(rl.local) > 10000 {
			rl.local = make(map[string]*localWindow)
		}
		w = &localWindow{start: windowStart}
		rl.local[identifier] = w
	}
	w.count++
	return w.count
}
