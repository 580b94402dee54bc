package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
	"lexhub-backend/pkg/resilience"
)

// DBConfig bounds the pgx pool and the startup retry
type DBConfig struct {
	MaxConns          int32
	MinConns          int32
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	// ConnectAttempts > 1 retries the first connection; CockroachDB often
	// comes up after the service in compose deployments.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

func DefaultDBConfig() *DBConfig {
	return &DBConfig{
		MaxConns:          10,
		MinConns:          1,
		ConnMaxLifetime:   time.Hour,
		ConnMaxIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectAttempts:   1,
		ConnectBackoff:    2 * time.Second,
	}
}

// DB wraps the pgx pool backing the staff roster
type DB struct {
	Pool *pgxpool.Pool
}

// ConnString builds a postgres URL; credentials are escaped
func ConnString(host string, port int, user, password, database, sslMode string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	if password == "" {
		u.User = url.User(user)
	}
	return u.String()
}

// NewDB opens the pool and pings it, retrying per dbConfig
func NewDB(ctx context.Context, connString string, dbConfig *DBConfig) (*DB, error) {
	if dbConfig == nil {
		dbConfig = DefaultDBConfig()
	}
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolCfg.MaxConns = dbConfig.MaxConns
	poolCfg.MinConns = dbConfig.MinConns
	poolCfg.MaxConnLifetime = dbConfig.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = dbConfig.ConnMaxIdleTime
	poolCfg.HealthCheckPeriod = dbConfig.HealthCheckPeriod

	var pool *pgxpool.Pool
	err = resilience.Retry(ctx, resilience.Policy{
		Attempts:   dbConfig.ConnectAttempts,
		Backoff:    dbConfig.ConnectBackoff,
		MaxBackoff: 30 * time.Second,
		OnRetry: func(attempt int, err error) {
			logger.Warn("CockroachDB connection failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
		},
	}, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Utilization is the share of MaxConns currently checked out. Each call
// also publishes the pool gauges.
func (db *DB) Utilization() float64 {
	stats := db.Pool.Stat()
	metrics.RecordDBPoolStats(stats)
	if stats.MaxConns() <= 0 {
		return 0
	}
	return float64(stats.AcquiredConns()) / float64(stats.MaxConns())
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
	logger.Info("Database connection pool closed")
}
