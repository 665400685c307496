package ratelimit

import (
	"context"
	"sync"
)

// Registry hands out one limiter per account, created lazily with the
// pool-wide limit.
type Registry struct {
	limiters map[int64]*TokenBucketLimiter
	rpm      int
	mu       sync.RWMutex
}

// NewRegistry creates a Registry; rpm <= 0 disables pacing.
func NewRegistry(rpm int) *Registry {
	return &Registry{limiters: make(map[int64]*TokenBucketLimiter), rpm: rpm}
}

// ForAccount returns the account's limiter.
func (r *Registry) ForAccount(accountID int64) *TokenBucketLimiter {
	r.mu.RLock()
	l, ok := r.limiters[accountID]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[accountID]; ok {
		return l
	}
	l = NewTokenBucketLimiter(r.rpm)
	r.limiters[accountID] = l
	return l
}

// Wait blocks until the account may send another request.
func (r *Registry) Wait(ctx context.Context, accountID int64) error {
	return r.ForAccount(accountID).Wait(ctx)
}

// SetRPM changes the limit for existing and future accounts.
func (r *Registry) SetRPM(rpm int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rpm = rpm
	for _, l := range r.limiters {
		l.SetLimit(rpm)
	}
}

// Forget drops a deleted account's limiter.
func (r *Registry) Forget(accountID int64) {
	r.mu.Lock()
	delete(r.limiters, accountID)
	r.mu.Unlock()
}

// Usage returns a snapshot of every account's budget.
func (r *Registry) Usage() map[int64]Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64]Usage, len(r.limiters))
	for id, l := range r.limiters {
		out[id] = l.GetUsage()
	}
	return out
}
