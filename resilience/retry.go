package resilience

import (
	"context"
	"time"

	"github.com/antflydb/raqe/errs"
)

// RetryConfig tunes Retry's exponential-backoff-with-jitter loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultStoreRetry is the default policy for store calls.
func DefaultStoreRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// DefaultNetworkRetry is the default policy for network-flaky operations.
func DefaultNetworkRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Retry calls fn until it succeeds, cfg.MaxAttempts is exhausted, or ctx is
// canceled, sleeping a jittered exponential backoff between attempts. It
// returns the last error seen. An errs.CircuitOpen error is returned
// immediately without further attempts: an open breaker must fail fast, and
// backing off against it would only stretch the failure out.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errs.Is(err, errs.CircuitOpen) {
			return err
		}
		lastErr = err
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		wait := jitter(delay)
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return lastErr
}
