package balancer

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/account"
)

// Candidate is an eligible account together with its admission counters.
type Candidate struct {
	Account  account.Account
	InFlight int64
	Ceiling  int64
}

// Selector picks one account out of an eligible set.
type Selector interface {
	// Select chooses a candidate. Returns ErrNoCandidates on an empty set.
	Select(candidates []Candidate) (Candidate, error)

	// Name returns the strategy name for logging and configuration.
	Name() string
}

// ErrNoCandidates is returned by selectors given an empty set.
var ErrNoCandidates = errors.New("balancer: no candidates")

// Strategy names accepted by NewSelector.
const (
	StrategyLeastRecentlyUsed = "least_recently_used"
	StrategyLeastLoaded       = "least_loaded"
)

// NewSelector returns the selector for strategy. Empty means least recently used.
func NewSelector(strategy string) (Selector, error) {
	switch strategy {
	case StrategyLeastRecentlyUsed, "":
		return LeastRecentlyUsed{}, nil
	case StrategyLeastLoaded:
		return LeastLoaded{}, nil
	default:
		return nil, fmt.Errorf("balancer: unknown strategy %q", strategy)
	}
}

// olderThan orders by last use, then by lowest id.
func olderThan(a, b *Candidate) bool {
	if !a.Account.LastUsedAt.Equal(b.Account.LastUsedAt) {
		return a.Account.LastUsedAt.Before(b.Account.LastUsedAt)
	}
	return a.Account.ID < b.Account.ID
}

// LeastRecentlyUsed picks the account idle for longest.
type LeastRecentlyUsed struct{}

// Select implements Selector.
func (LeastRecentlyUsed) Select(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	return lo.MinBy(candidates, func(a, b Candidate) bool {
		return olderThan(&a, &b)
	}), nil
}

// Name implements Selector.
func (LeastRecentlyUsed) Name() string { return StrategyLeastRecentlyUsed }

// LeastLoaded picks the account with the most free slots, falling back to
// least recently used.
type LeastLoaded struct{}

// Select implements Selector.
func (LeastLoaded) Select(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	return lo.MinBy(candidates, func(a, b Candidate) bool {
		freeA, freeB := a.Ceiling-a.InFlight, b.Ceiling-b.InFlight
		if freeA != freeB {
			return freeA > freeB
		}
		return olderThan(&a, &b)
	}), nil
}

// Name implements Selector.
func (LeastLoaded) Name() string { return StrategyLeastLoaded }
