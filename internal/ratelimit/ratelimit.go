// Package ratelimit gates outbound model calls shared by every fan-out stage.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Config holds rate limiting configuration.
type Config struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables limiting.
	RequestsPerSecond float64
	// Burst is the maximum burst size.
	Burst int
}

// Limiter is a token bucket shared by concurrent callers. A nil *Limiter
// never blocks.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter for cfg, or nil when cfg disables limiting.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)}
}

// Wait blocks until a request can be made without exceeding the rate limit.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request can be made immediately.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
