package token_test

import (
	"context"
	"sort"
	"sync"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/store"
)

// memRepo is an in-memory store.Repository that records calls.
type memRepo struct {
	rows    map[int64]account.Account
	calls   []string
	saveErr error
	nextID  int64
	mu      sync.Mutex
}

func newMemRepo(accts ...account.Account) *memRepo {
	r := &memRepo{rows: make(map[int64]account.Account)}
	for _, a := range accts {
		if a.ID > r.nextID {
			r.nextID = a.ID
		}
		r.rows[a.ID] = a
	}
	return r
}

func (r *memRepo) record(call string) {
	r.calls = append(r.calls, call)
}

func (r *memRepo) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *memRepo) Saved(id int64) account.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

func (r *memRepo) LoadAccounts(context.Context) ([]account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("load")
	out := make([]account.Account, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) SaveAccount(_ context.Context, a *account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("save")
	if r.saveErr != nil {
		return r.saveErr
	}
	if a.SessionToken == "" {
		return store.ErrMissingSessionToken
	}
	if a.ID == 0 {
		r.nextID++
		a.ID = r.nextID
	}
	r.rows[a.ID] = *a
	return nil
}

func (r *memRepo) DeleteAccount(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("delete")
	if _, ok := r.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memRepo) LoadQuotaConfig(context.Context) (store.QuotaConfig, error) {
	return store.QuotaConfig{}, store.ErrNotFound
}

func (r *memRepo) SaveQuotaConfig(context.Context, store.QuotaConfig) error { return nil }

func (r *memRepo) LoadDebugConfig(context.Context) (store.DebugConfig, error) {
	return store.DebugConfig{}, store.ErrNotFound
}

func (r *memRepo) SaveDebugConfig(context.Context, store.DebugConfig) error { return nil }

func (r *memRepo) Close() error { return nil }

// fakeClient scripts upstream credential responses.
type fakeClient struct {
	sessions     map[string]account.Session
	exchangeErr  error
	creditsErrs  []error
	credits      account.Credits
	exchanges    int
	creditsCalls int
	mu           sync.Mutex
}

func (c *fakeClient) ExchangeSession(_ context.Context, st string) (account.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges++
	if c.exchangeErr != nil {
		return account.Session{}, c.exchangeErr
	}
	return c.sessions[st], nil
}

func (c *fakeClient) FetchCredits(context.Context, *account.Account) (account.Credits, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creditsCalls++
	if len(c.creditsErrs) > 0 {
		err := c.creditsErrs[0]
		c.creditsErrs = c.creditsErrs[1:]
		if err != nil {
			return account.Credits{}, err
		}
	}
	return c.credits, nil
}

// fakeSampler returns scripted session tokens per account.
type fakeSampler struct {
	tokens map[int64]string
	errs   map[int64]error
	panics map[int64]bool
	calls  []int64
	mu     sync.Mutex
}

func (s *fakeSampler) RefreshSessionToken(_ context.Context, id int64, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id)
	if s.panics[id] {
		panic("browser crashed")
	}
	if err := s.errs[id]; err != nil {
		return "", err
	}
	return s.tokens[id], nil
}
