package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// LimiterOpts configures the token bucket.
type LimiterOpts struct {
	// Rate is the number of calls allowed per second. Zero or less disables limiting.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// Limiter throttles calls to a remote model endpoint.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a token bucket limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	r := rate.Limit(opts.Rate)
	if opts.Rate <= 0 {
		r = rate.Inf
	}
	return &Limiter{lim: rate.NewLimiter(r, opts.Burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}
