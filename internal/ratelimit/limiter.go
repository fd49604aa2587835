// Package ratelimit throttles outbound exchange requests with a token bucket
// shared by every adapter call.
package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"btcQuant/internal/ports"

	"golang.org/x/time/rate"
)

// Limiter wraps a token bucket and maps context failures onto ports errors.
type Limiter struct {
	bucket *rate.Limiter
}

// New returns a limiter allowing perSecond requests with the given burst.
// A non-positive perSecond disables limiting.
func New(perSecond float64, burst int) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request may be sent or ctx is done. A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.bucket.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("rate limiter wait: %w: %w", ports.ErrContextCanceled, err)
		}
		// rate also fails early when the next token would arrive after the deadline.
		return fmt.Errorf("rate limiter wait: %w: %w", ports.ErrTimeout, err)
	}
	return nil
}
