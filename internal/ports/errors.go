package ports

import (
	"errors"
	"fmt"
	"time"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")
	ErrInvalidSettings = errors.New("invalid or missing settings")

	// Exchange Specific Errors
	ErrExchangeUnavailable = errors.New("exchange API is unavailable")
	ErrRateLimited         = errors.New("API rate limit exceeded")
	ErrUnknownSymbol       = errors.New("symbol not listed on exchange")
	ErrUnsupportedInterval = errors.New("timeframe not supported by exchange")

	// Storage Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrCacheMiss    = errors.New("cache miss")

	// Messaging Errors
	ErrPublishFailed = errors.New("snapshot publish failed")
)

// RateLimitError carries the exchange's retry-after hint. It matches
// ErrRateLimited under errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration // zero when the exchange gave no hint
	Cause      error
}

func (e *RateLimitError) Error() string {
	msg := ErrRateLimited.Error()
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

func (e *RateLimitError) Unwrap() error { return e.Cause }

// RetryAfter extracts the retry-after hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsTransient reports whether err should be retried on the next scheduled tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout)
}
