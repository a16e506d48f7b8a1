package chain

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter caps scan-path RPC traffic to a fixed per-second ceiling. Callers
// block in Wait until a slot frees inside the current window. Balance and
// health queries bypass it; only the scanning pipeline is throttled.
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter allows rps calls per second with a burst of the same size, so
// a full window can be consumed at once and the next caller suspends until
// the window refills.
func NewLimiter(rps int) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(rps), rps)}
}

// Wait blocks until a call slot is available or the context is done.
func (r *Limiter) Wait(ctx context.Context) error {
	return r.l.Wait(ctx)
}
