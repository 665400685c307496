package concurrency

import "sync"

// Lease is one held admission slot.
type Lease struct {
	controller *Controller
	once       sync.Once
	accountID  int64
}

// AccountID returns the account the slot belongs to.
func (l *Lease) AccountID() int64 {
	return l.accountID
}

// Release returns the slot. Calls after the first are no-ops.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.controller.Release(l.accountID)
	})
}
