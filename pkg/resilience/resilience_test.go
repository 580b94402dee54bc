package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	err := Retry(context.Background(), Policy{
		Attempts: 3,
		Backoff:  time.Millisecond,
		OnRetry:  func(attempt int, _ error) { retried = append(retried, attempt) },
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_GivesUp(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := Retry(context.Background(), Policy{Attempts: 3, Backoff: time.Millisecond}, func(context.Context) error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetry_NotRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Policy{
		Attempts:  5,
		Backoff:   time.Millisecond,
		Retryable: func(error) bool { return false },
	}, func(context.Context) error {
		calls++
		return errors.New("bad request")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{Attempts: 5, Backoff: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("unavailable")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker("test_dep", BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
		Retry:            Policy{Attempts: 1},
	})
	b.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("connection refused") }
	ok := func(context.Context) error { return nil }

	assert.Error(t, b.Execute(context.Background(), "get", fail))
	assert.Equal(t, CircuitBreakerClosed, b.State())
	assert.Error(t, b.Execute(context.Background(), "get", fail))
	assert.Equal(t, CircuitBreakerOpen, b.State())

	err := b.Execute(context.Background(), "get", ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(11 * time.Second)
	require.NoError(t, b.Execute(context.Background(), "get", ok))
	assert.Equal(t, CircuitBreakerClosed, b.State())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "none", classifyError(nil))
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "network", classifyError(errors.New("dial tcp: connection refused")))
	assert.Equal(t, "unknown", classifyError(errors.New("boom")))
}
