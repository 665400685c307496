package ratelimit

// GetRPMLimit returns the RPM limit (for testing).
func (l *TokenBucketLimiter) GetRPMLimit() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rpmLimit
}

// Unlimited exposes the sentinel rate used for rpm <= 0.
const Unlimited = unlimitedRate
