package remote

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle spaces out RETR commands.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows perSecond transfers with the given burst. A non-positive
// rate disables throttling.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until the next transfer is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}

// Limit returns the configured transfers per second.
func (t *Throttle) Limit() rate.Limit {
	if t == nil {
		return rate.Inf
	}
	return t.limiter.Limit()
}
