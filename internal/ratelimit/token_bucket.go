package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const unlimitedRate = 1_000_000

// TokenBucketLimiter implements RateLimiter with golang.org/x/time/rate.
// Burst equals the per-minute limit, so a fresh bucket admits a full
// minute's worth of requests and then refills evenly.
type TokenBucketLimiter struct {
	limiter  *rate.Limiter
	rpmLimit int
	mu       sync.RWMutex
}

func newBucket(rpm int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
}

// NewTokenBucketLimiter creates a limiter; rpm <= 0 means unlimited.
func NewTokenBucketLimiter(rpm int) *TokenBucketLimiter {
	if rpm <= 0 {
		rpm = unlimitedRate
	}
	return &TokenBucketLimiter{limiter: newBucket(rpm), rpmLimit: rpm}
}

// Allow implements RateLimiter.
func (l *TokenBucketLimiter) Allow(_ context.Context) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Wait implements RateLimiter.
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrContextCancelled
		}
		return ErrRateLimitExceeded
	}
	return nil
}

// SetLimit implements RateLimiter.
func (l *TokenBucketLimiter) SetLimit(rpm int) {
	if rpm <= 0 {
		rpm = unlimitedRate
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if rpm == l.rpmLimit {
		return
	}
	l.limiter = newBucket(rpm)
	l.rpmLimit = rpm
}

// GetUsage implements RateLimiter.
func (l *TokenBucketLimiter) GetUsage() Usage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	remaining := clampUsage(int(l.limiter.Tokens()), l.rpmLimit)
	return Usage{
		RequestsUsed:      l.rpmLimit - remaining,
		RequestsLimit:     l.rpmLimit,
		RequestsRemaining: remaining,
	}
}

func clampUsage(remaining, limit int) int {
	if remaining < 0 {
		return 0
	}
	if remaining > limit {
		return limit
	}
	return remaining
}
