package resilience

import (
	"context"
	"fmt"
	"time"
)

// Policy is a bounded retry with linear backoff
type Policy struct {
	Attempts   int
	Backoff    time.Duration // wait after attempt n is n*Backoff
	MaxBackoff time.Duration

	// Retryable, when set, stops retrying on errors it rejects
	Retryable func(error) bool
	// OnRetry runs before each retry
	OnRetry func(attempt int, err error)
}

// Retry runs fn until it succeeds, the attempts are spent or ctx ends
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		backoff := time.Duration(attempt) * p.Backoff
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted after %d attempts: %w", attempt, err)
		case <-timer.C:
		}
	}
	if attempts == 1 {
		return err
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}
