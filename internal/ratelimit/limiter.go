// Package ratelimit paces upstream calls per account.
//
// Each account gets a token bucket limiting requests per minute, so a burst
// of captcha retries or parallel generations on one account cannot exceed
// the pace the upstream tolerates from a single session.
package ratelimit

import (
	"context"
	"errors"
)

// Common errors returned by rate limiters.
var (
	// ErrRateLimitExceeded is returned when a rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("ratelimit: rate limit exceeded")

	// ErrContextCancelled is returned when the context ends while waiting.
	ErrContextCancelled = errors.New("ratelimit: context canceled")
)

// Usage is the current request budget of a limiter.
type Usage struct {
	RequestsUsed      int `json:"requests_used"`
	RequestsLimit     int `json:"requests_limit"`
	RequestsRemaining int `json:"requests_remaining"`
}

// RateLimiter limits requests per minute. Implementations are safe for
// concurrent use.
type RateLimiter interface {
	// Allow reports whether a request may proceed now, consuming budget if so.
	Allow(ctx context.Context) bool

	// Wait blocks until a request may proceed or ctx ends.
	Wait(ctx context.Context) error

	// SetLimit replaces the requests-per-minute limit; <= 0 means unlimited.
	SetLimit(rpm int)

	// GetUsage returns the current budget.
	GetUsage() Usage
}
