package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("dependency temporarily unavailable (circuit breaker open)")

var (
	breakerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dependency_requests_total",
		Help: "Total number of guarded dependency requests",
	}, []string{"dependency", "operation", "status"})

	breakerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dependency_errors_total",
		Help: "Total number of guarded dependency errors",
	}, []string{"dependency", "operation", "error_type"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dependency_circuit_breaker_state",
		Help: "State of a dependency circuit breaker (0=closed, 1=half_open, 2=open)",
	}, []string{"dependency"})
)

// BreakerConfig tunes a Breaker
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // open time before a probe is allowed
	Timeout          time.Duration // per Execute call, retries included
	Retry            Policy
}

// DefaultBreakerConfig mirrors the storage defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		Timeout:          10 * time.Second,
		Retry:            Policy{Attempts: 3, Backoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second},
	}
}

// Breaker guards calls to one external dependency (MinIO, Cassandra) with
// retry, timeout and a circuit breaker.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
}

// NewBreaker creates a closed breaker for the named dependency
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	breakerState.WithLabelValues(name).Set(0)
	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: CircuitBreakerClosed,
	}
}

// Execute runs fn with retry under the breaker
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	policy := b.cfg.Retry
	policy.Retryable = func(err error) bool { return !errors.Is(err, ErrCircuitOpen) }
	return Retry(ctx, policy, func(ctx context.Context) error {
		if !b.allow() {
			logger.Error("Circuit breaker is OPEN - request blocked",
				zap.String("dependency", b.name),
				zap.String("operation", operation),
			)
			breakerRequestsTotal.WithLabelValues(b.name, operation, "circuit_breaker_open").Inc()
			return ErrCircuitOpen
		}

		err := fn(ctx)
		b.record(operation, err)
		return err
	})
}

// State returns the current circuit breaker state
func (b *Breaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitBreakerOpen {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
		return false
	}
	b.state = CircuitBreakerHalfOpen
	breakerState.WithLabelValues(b.name).Set(1)
	logger.Warn("Circuit breaker HALF-OPEN - probing dependency", zap.String("dependency", b.name))
	return true
}

func (b *Breaker) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != CircuitBreakerClosed {
			logger.Info("Circuit breaker CLOSED - dependency recovered", zap.String("dependency", b.name))
		}
		b.state = CircuitBreakerClosed
		b.consecutiveFailures = 0
		breakerState.WithLabelValues(b.name).Set(0)
		breakerRequestsTotal.WithLabelValues(b.name, operation, "success").Inc()
		return
	}

	b.consecutiveFailures++
	breakerErrorsTotal.WithLabelValues(b.name, operation, classifyError(err)).Inc()
	breakerRequestsTotal.WithLabelValues(b.name, operation, "failure").Inc()

	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = CircuitBreakerOpen
		b.openedAt = b.now()
		breakerState.WithLabelValues(b.name).Set(2)
		logger.Error("Circuit breaker OPEN - too many consecutive failures",
			zap.String("dependency", b.name),
			zap.String("operation", operation),
			zap.Int("consecutive_failures", b.consecutiveFailures),
		)
	}
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "not found") || strings.Contains(errMsg, "does not exist"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
