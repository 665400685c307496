package health

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Tracker manages per-account circuit breakers.
type Tracker struct {
	circuits map[int64]*CircuitBreaker
	logger   *zerolog.Logger
	config   CircuitBreakerConfig
	mu       sync.RWMutex
}

// NewTracker creates a Tracker with the given configuration.
func NewTracker(cfg CircuitBreakerConfig, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		circuits: make(map[int64]*CircuitBreaker),
		config:   cfg,
		logger:   logger,
	}
}

// GetOrCreateCircuit returns the account's breaker, creating it lazily.
func (t *Tracker) GetOrCreateCircuit(accountID int64) *CircuitBreaker {
	t.mu.RLock()
	cb, exists := t.circuits[accountID]
	t.mu.RUnlock()

	if exists {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cb, exists = t.circuits[accountID]; exists {
		return cb
	}

	cb = NewCircuitBreaker("account:"+strconv.FormatInt(accountID, 10), t.config, t.logger)
	t.circuits[accountID] = cb

	if t.logger != nil {
		t.logger.Debug().Int64("account_id", accountID).Msg("created circuit breaker")
	}
	return cb
}

// Do runs fn through the account's breaker.
func (t *Tracker) Do(accountID int64, fn func() error) error {
	return t.GetOrCreateCircuit(accountID).Do(fn)
}

// GetState returns the account's circuit state, closed when none exists.
func (t *Tracker) GetState(accountID int64) State {
	t.mu.RLock()
	cb, exists := t.circuits[accountID]
	t.mu.RUnlock()

	if !exists {
		return StateClosed
	}
	return cb.State()
}

// IsOpen reports whether the account's circuit currently rejects calls.
func (t *Tracker) IsOpen(accountID int64) bool {
	return t.GetState(accountID) == StateOpen
}

// Forget drops the breaker of a deleted account.
func (t *Tracker) Forget(accountID int64) {
	t.mu.Lock()
	delete(t.circuits, accountID)
	t.mu.Unlock()
}

// AllStates returns a snapshot of every circuit state keyed by account id.
func (t *Tracker) AllStates() map[int64]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[int64]State, len(t.circuits))
	for id, cb := range t.circuits {
		states[id] = cb.State()
	}
	return states
}
