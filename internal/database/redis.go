package database

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps go-redis with a degraded mode. While the last health
// check failed, Safe* commands return an error immediately instead of
// waiting on dial timeouts; presence and push lookups treat that as unknown.
type RedisClient struct {
	Client   *redis.Client
	degraded atomic.Bool
	checkMu  sync.Mutex
}

var (
	redisDegradedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redis_degraded_mode",
		Help: "1 while Redis is considered unreachable",
	})
	redisHealthChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_health_check_total",
		Help: "Redis health checks by result",
	}, []string{"result"})
	redisSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_degraded_skips_total",
		Help: "Commands short-circuited while Redis was degraded",
	}, []string{"op"})
	redisMetricsOnce sync.Once
)

// InitRedisMetrics registers the Redis metrics. Safe to call more than once.
func InitRedisMetrics() {
	redisMetricsOnce.Do(func() {
		prometheus.MustRegister(redisDegradedGauge, redisHealthChecks, redisSkipped)
	})
}

// NewRedisDB connects and pings Redis
func NewRedisDB(cfg *RedisConfig) (*RedisClient, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &RedisClient{Client: client}, nil
}

func (r *RedisClient) Close() {
	if err := r.Client.Close(); err != nil {
		logger.Warn("Failed to close Redis client", zap.Error(err))
	}
}

// StartHealthCheck pings Redis every interval until ctx is done
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.HealthCheck(ctx); err != nil {
				logger.Warn("Redis health check failed", zap.Error(err))
			}
		}
	}
}

// IsDegraded reports whether the last health check failed
func (r *RedisClient) IsDegraded() bool {
	return r.degraded.Load()
}

func (r *RedisClient) setDegraded(degraded bool) {
	if r.degraded.Swap(degraded) == degraded {
		return
	}
	if degraded {
		redisDegradedGauge.Set(1)
		logger.Warn("Redis entered degraded mode")
		return
	}
	redisDegradedGauge.Set(0)
	logger.Info("Redis left degraded mode")
}

// HealthCheck pings Redis and updates degraded mode. Concurrent checks are
// serialized.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.checkMu.Lock()
	defer r.checkMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.Client.Ping(ctx).Err(); err != nil {
		r.setDegraded(true)
		redisHealthChecks.WithLabelValues("failure").Inc()
		return fmt.Errorf("redis health check failed: %w", err)
	}
	r.setDegraded(false)
	redisHealthChecks.WithLabelValues("success").Inc()
	return nil
}

// guard runs cmd unless Redis is degraded, in which case it returns an
// empty command of the same type carrying the skip error.
func guard[C interface{ SetErr(error) }](r *RedisClient, ctx context.Context, op string, empty func(context.Context, ...interface{}) C, cmd func() C) C {
	if !r.IsDegraded() {
		return cmd()
	}
	redisSkipped.WithLabelValues(op).Inc()
	c := empty(ctx, op)
	c.SetErr(fmt.Errorf("redis is in degraded mode, %s skipped", op))
	return c
}

func (r *RedisClient) SafeGet(ctx context.Context, key string) *redis.StringCmd {
	return guard(r, ctx, "get", redis.NewStringCmd, func() *redis.StringCmd { return r.Client.Get(ctx, key) })
}

func (r *RedisClient) SafeSet(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	return guard(r, ctx, "set", redis.NewStatusCmd, func() *redis.StatusCmd { return r.Client.Set(ctx, key, value, ttl) })
}

func (r *RedisClient) SafeDel(ctx context.Context, keys ...string) *redis.IntCmd {
	return guard(r, ctx, "del", redis.NewIntCmd, func() *redis.IntCmd { return r.Client.Del(ctx, keys...) })
}

func (r *RedisClient) SafeExists(ctx context.Context, keys ...string) *redis.IntCmd {
	return guard(r, ctx, "exists", redis.NewIntCmd, func() *redis.IntCmd { return r.Client.Exists(ctx, keys...) })
}

func (r *RedisClient) SafeIncrBy(ctx context.Context, key string, delta int64) *redis.IntCmd {
	return guard(r, ctx, "incrby", redis.NewIntCmd, func() *redis.IntCmd { return r.Client.IncrBy(ctx, key, delta) })
}

func (r *RedisClient) SafeMGet(ctx context.Context, keys ...string) *redis.SliceCmd {
	return guard(r, ctx, "mget", redis.NewSliceCmd, func() *redis.SliceCmd { return r.Client.MGet(ctx, keys...) })
}

func (r *RedisClient) SafeSAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return guard(r, ctx, "sadd", redis.NewIntCmd, func() *redis.IntCmd { return r.Client.SAdd(ctx, key, members...) })
}

func (r *RedisClient) SafeSRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return guard(r, ctx, "srem", redis.NewIntCmd, func() *redis.IntCmd { return r.Client.SRem(ctx, key, members...) })
}

func (r *RedisClient) SafeSMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	return guard(r, ctx, "smembers", redis.NewStringSliceCmd, func() *redis.StringSliceCmd { return r.Client.SMembers(ctx, key) })
}

func (r *RedisClient) SafeExpire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	return guard(r, ctx, "expire", redis.NewBoolCmd, func() *redis.BoolCmd { return r.Client.Expire(ctx, key, ttl) })
}

func (r *RedisClient) SafeLPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	return guard(r, ctx, "lpush", redis.NewIntCmd, func() *redis.IntCmd { return r.Client.LPush(ctx, key, values...) })
}

func (r *RedisClient) SafeLRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	return guard(r, ctx, "lrange", redis.NewStringSliceCmd, func() *redis.StringSliceCmd { return r.Client.LRange(ctx, key, start, stop) })
}
