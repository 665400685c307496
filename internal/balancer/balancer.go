// Package balancer chooses which account serves a request.
package balancer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
)

// saturatedRetryAfter is the hint given when accounts are only busy.
const saturatedRetryAfter = time.Second

// AccountSource exposes account snapshots and the last-used stamp.
type AccountSource interface {
	GetAllTokens() []account.Account
	Touch(id int64, at time.Time)
}

// Availability exposes the admission counters.
type Availability interface {
	IsAvailable(id int64) bool
	InFlight(id int64) int64
	Ceiling(id int64) int64
}

// Circuits reports accounts whose upstream circuit is open.
type Circuits interface {
	IsOpen(id int64) bool
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithCircuits skips accounts whose circuit is open. Half-open accounts
// stay selectable so probe calls can close them again.
func WithCircuits(c Circuits) Option {
	return func(b *Balancer) { b.circuits = c }
}

// Filter narrows the eligible set for one selection.
type Filter struct {
	// Exclude lists accounts already tried for this request.
	Exclude map[int64]struct{}
	// AccountID pins selection to one account when non-zero.
	AccountID int64
}

func (f *Filter) allows(id int64) bool {
	if f.AccountID != 0 && f.AccountID != id {
		return false
	}
	_, skip := f.Exclude[id]
	return !skip
}

// Balancer selects accounts and stamps them as used.
type Balancer struct {
	last     time.Time
	accounts AccountSource
	slots    Availability
	circuits Circuits
	selector Selector
	now      func() time.Time
	log      *zerolog.Logger
	mu       sync.Mutex
}

// New creates a Balancer.
func New(accounts AccountSource, slots Availability, selector Selector, log *zerolog.Logger, opts ...Option) *Balancer {
	if selector == nil {
		selector = LeastRecentlyUsed{}
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	b := &Balancer{
		accounts: accounts,
		slots:    slots,
		selector: selector,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Balancer) tripped(id int64) bool {
	return b.circuits != nil && b.circuits.IsOpen(id)
}

// Strategy returns the active selector name.
func (b *Balancer) Strategy() string {
	return b.selector.Name()
}

// Select returns the next account to use, or a pool_exhausted error.
//
// Selection and the last-used stamp happen under one lock so a burst of
// requests spreads over distinct accounts. Stamps are strictly increasing.
func (b *Balancer) Select(ctx context.Context, f Filter) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, apperr.Wrap(apperr.KindTransient, err, "select account")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	all := b.accounts.GetAllTokens()
	candidates := lo.FilterMap(all, func(a account.Account, _ int) (Candidate, bool) {
		if !a.Selectable() || !f.allows(a.ID) || !b.slots.IsAvailable(a.ID) || b.tripped(a.ID) {
			return Candidate{}, false
		}
		return Candidate{Account: a, InFlight: b.slots.InFlight(a.ID), Ceiling: b.slots.Ceiling(a.ID)}, true
	})

	chosen, err := b.selector.Select(candidates)
	if err != nil {
		return account.Account{}, b.exhausted(all, &f)
	}

	stamp := b.now()
	if !stamp.After(b.last) {
		stamp = b.last.Add(time.Nanosecond)
	}
	b.last = stamp
	b.accounts.Touch(chosen.Account.ID, stamp)
	chosen.Account.LastUsedAt = stamp

	b.log.Debug().
		Str("strategy", b.selector.Name()).
		Int64("account_id", chosen.Account.ID).
		Str("email", chosen.Account.Email).
		Int("candidates", len(candidates)).
		Msg("account selected")

	return chosen.Account, nil
}

// exhausted builds the pool_exhausted error with a retry hint when one is
// meaningful: busy or tripped accounts free up soon, banned ones when the
// ban lapses.
func (b *Balancer) exhausted(all []account.Account, f *Filter) error {
	err := apperr.New(apperr.KindPoolExhausted, "no eligible account")

	var busy bool
	var earliestBan time.Time
	for i := range all {
		a := &all[i]
		if !a.IsActive || !f.allows(a.ID) {
			continue
		}
		if a.Banned() {
			if earliestBan.IsZero() || a.BannedUntil.Before(earliestBan) {
				earliestBan = a.BannedUntil
			}
			continue
		}
		if !b.slots.IsAvailable(a.ID) || b.tripped(a.ID) {
			busy = true
		}
	}

	switch {
	case busy:
		return err.WithRetryAfter(saturatedRetryAfter)
	case !earliestBan.IsZero():
		return err.WithRetryAfter(time.Until(earliestBan).Round(time.Second))
	default:
		return err
	}
}
