// Package concurrency bounds how many generation calls each account may have
// in flight.
package concurrency

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/account"
)

// DefaultCeiling is used when neither the account nor the pool sets one.
const DefaultCeiling = 1

type slot struct {
	inFlight atomic.Int64
	ceiling  atomic.Int64
	override atomic.Int64
	retired  atomic.Bool
}

func (s *slot) tryAcquire() bool {
	if s.retired.Load() {
		return false
	}
	for {
		current := s.inFlight.Load()
		if current >= s.ceiling.Load() {
			return false
		}
		if s.inFlight.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *slot) release() bool {
	for {
		current := s.inFlight.Load()
		if current <= 0 {
			return false
		}
		if s.inFlight.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// SlotState is a point-in-time view of one account's admission counter.
type SlotState struct {
	AccountID int64 `json:"account_id"`
	InFlight  int64 `json:"in_flight"`
	Ceiling   int64 `json:"ceiling"`
}

// Controller tracks per-account in-flight counters.
//
// The map lock only guards membership. Admission itself is a CAS on the
// account's own counter, so unrelated accounts never contend.
type Controller struct {
	slots          map[int64]*slot
	log            *zerolog.Logger
	defaultCeiling atomic.Int64
	mu             sync.RWMutex
}

// NewController creates a controller with the given pool-wide ceiling.
func NewController(defaultCeiling int, log *zerolog.Logger) *Controller {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	c := &Controller{slots: make(map[int64]*slot), log: log}
	c.defaultCeiling.Store(int64(max(defaultCeiling, DefaultCeiling)))
	return c
}

// Initialize seeds counters for accounts. Existing counters keep their
// in-flight value; only the ceiling is refreshed. Accounts missing from the
// list are dropped once idle and refuse new admissions meanwhile.
func (c *Controller) Initialize(accounts []account.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[int64]struct{}, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		present[a.ID] = struct{}{}

		s, ok := c.slots[a.ID]
		if !ok {
			s = &slot{}
			c.slots[a.ID] = s
		}
		s.override.Store(int64(max(a.MaxConcurrency, 0)))
		s.retired.Store(false)
		c.applyCeiling(s)
	}

	for id, s := range c.slots {
		if _, ok := present[id]; ok {
			continue
		}
		if s.inFlight.Load() == 0 {
			delete(c.slots, id)
			continue
		}
		s.retired.Store(true)
	}

	c.log.Debug().
		Int("accounts", len(accounts)).
		Int("tracked", len(c.slots)).
		Msg("concurrency controller initialized")
}

func (c *Controller) applyCeiling(s *slot) {
	if o := s.override.Load(); o > 0 {
		s.ceiling.Store(o)
		return
	}
	s.ceiling.Store(c.defaultCeiling.Load())
}

func (c *Controller) slot(id int64) (*slot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	return s, ok
}

// TryAcquire takes a slot for the account if it is below its ceiling.
// It never blocks; false means saturated or unknown.
func (c *Controller) TryAcquire(id int64) bool {
	s, ok := c.slot(id)
	if !ok {
		return false
	}
	return s.tryAcquire()
}

// Release returns a slot taken by a successful TryAcquire. The counter never
// drops below zero.
func (c *Controller) Release(id int64) {
	s, ok := c.slot(id)
	if !ok {
		c.log.Warn().Int64("account_id", id).Msg("release for untracked account")
		return
	}
	if !s.release() {
		c.log.Warn().Int64("account_id", id).Msg("release without matching acquire")
		return
	}
	if s.retired.Load() && s.inFlight.Load() == 0 {
		c.mu.Lock()
		if cur, ok := c.slots[id]; ok && cur == s && s.retired.Load() && s.inFlight.Load() == 0 {
			delete(c.slots, id)
		}
		c.mu.Unlock()
	}
}

// Acquire is TryAcquire returning a Lease whose Release runs at most once.
func (c *Controller) Acquire(id int64) (*Lease, bool) {
	if !c.TryAcquire(id) {
		return nil, false
	}
	return &Lease{controller: c, accountID: id}, true
}

// IsAvailable reports whether the account currently has a free slot.
func (c *Controller) IsAvailable(id int64) bool {
	s, ok := c.slot(id)
	if !ok || s.retired.Load() {
		return false
	}
	return s.inFlight.Load() < s.ceiling.Load()
}

// AvailableAccounts returns ids with a free slot, ascending.
func (c *Controller) AvailableAccounts() []int64 {
	c.mu.RLock()
	ids := lo.FilterMapToSlice(c.slots, func(id int64, s *slot) (int64, bool) {
		return id, !s.retired.Load() && s.inFlight.Load() < s.ceiling.Load()
	})
	c.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// InFlight returns the account's current counter.
func (c *Controller) InFlight(id int64) int64 {
	if s, ok := c.slot(id); ok {
		return s.inFlight.Load()
	}
	return 0
}

// Ceiling returns the account's admission ceiling, or 0 if untracked.
func (c *Controller) Ceiling(id int64) int64 {
	if s, ok := c.slot(id); ok {
		return s.ceiling.Load()
	}
	return 0
}

// SetDefaultCeiling changes the pool-wide ceiling for accounts without their
// own. Lowering it below a current counter only blocks new admissions.
func (c *Controller) SetDefaultCeiling(n int) {
	c.defaultCeiling.Store(int64(max(n, DefaultCeiling)))

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.slots {
		c.applyCeiling(s)
	}
}

// DefaultCeilingValue returns the pool-wide ceiling.
func (c *Controller) DefaultCeilingValue() int {
	return int(c.defaultCeiling.Load())
}

// Snapshot returns every tracked counter, ordered by account id.
func (c *Controller) Snapshot() []SlotState {
	c.mu.RLock()
	out := make([]SlotState, 0, len(c.slots))
	for id, s := range c.slots {
		out = append(out, SlotState{AccountID: id, InFlight: s.inFlight.Load(), Ceiling: s.ceiling.Load()})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
