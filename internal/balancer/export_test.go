package balancer

import "time"

// SetClock replaces the balancer clock for tests.
func (b *Balancer) SetClock(now func() time.Time) {
	b.now = now
}
