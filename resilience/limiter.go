package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures NewLimiter. PerSec <= 0 disables limiting.
type RateLimitConfig struct {
	PerSec float64
	Burst  int
}

// Limiter is a thin wrapper over golang.org/x/time/rate used to smooth
// client-side call rates to a collaborator. Ingress rate limiting is the
// host's concern; this is the core's own
// best-effort companion for outbound collaborator calls, not a global lock.
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter builds a Limiter allowing ratePerSec sustained calls with a
// burst of burst. ratePerSec <= 0 disables limiting.
func NewLimiter(ratePerSec float64, burst int) *Limiter {
	if ratePerSec <= 0 {
		return &Limiter{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until a token is available or ctx is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}
