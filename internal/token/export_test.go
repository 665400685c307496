package token

import "time"

// SetClock replaces the manager clock for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
