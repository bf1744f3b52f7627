package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/raqe/errs"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 50 * time.Millisecond}, nil)
	failing := func(context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), failing)
		require.Error(t, err)
		assert.False(t, errs.Is(err, errs.CircuitOpen))
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), failing)
	assert.True(t, errs.Is(err, errs.CircuitOpen))
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1}, nil)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetryFailsFastWhenCircuitIsOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute}, nil)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	calls := 0
	start := time.Now()
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}, func(ctx context.Context) error {
		return cb.Execute(ctx, func(context.Context) error {
			calls++
			return nil
		})
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CircuitOpen))
	assert.Equal(t, 0, calls)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrySucceedsOnLaterAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLimiterDisabledWithZeroRateNeverBlocks(t *testing.T) {
	l := NewLimiter(0, 0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterThrottlesBeyondBurst(t *testing.T) {
	l := NewLimiter(20, 1)
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.Greater(t, time.Since(start), 10*time.Millisecond)
}

func TestLimiterWaitRespectsContextCancellation(t *testing.T) {
	l := NewLimiter(1, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.Error(t, err)
}
