// Package token owns the credential lifecycle of pooled accounts.
//
// The Manager is the only writer of account records. It keeps an in-memory
// snapshot loaded from the store; every mutation is saved through the
// repository before the snapshot is swapped, so readers never observe state
// that is not durable. Last-used stamps are the exception: they are kept in
// memory and written by FlushUsage.
package token

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/store"
)

// DefaultBanDuration applies when a rate-limit signal carries no duration.
const DefaultBanDuration = time.Hour

// CredentialClient talks to the upstream auth and billing endpoints.
type CredentialClient interface {
	// ExchangeSession mints an access token from a session token.
	ExchangeSession(ctx context.Context, sessionToken string) (account.Session, error)
	// FetchCredits returns the balance visible to the account's access token.
	FetchCredits(ctx context.Context, a *account.Account) (account.Credits, error)
}

// SessionSampler re-reads a session token from a live browser context.
type SessionSampler interface {
	RefreshSessionToken(ctx context.Context, accountID int64, projectID string) (string, error)
}

// ChangeFunc is called with a fresh snapshot after the account set changes.
type ChangeFunc func(accounts []account.Account)

// Manager is the single source of truth for account credential state.
type Manager struct {
	repo        store.Repository
	client      CredentialClient
	sampler     SessionSampler
	log         *zerolog.Logger
	now         func() time.Time
	accounts    map[int64]*account.Account
	locks       map[int64]*sync.Mutex
	dirty       map[int64]struct{}
	onChange    []ChangeFunc
	banDuration atomic.Int64
	mu          sync.RWMutex
	locksMu     sync.Mutex
}

// NewManager creates a Manager. Call Load before serving.
func NewManager(repo store.Repository, client CredentialClient, sampler SessionSampler, log *zerolog.Logger) *Manager {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	m := &Manager{
		repo:     repo,
		client:   client,
		sampler:  sampler,
		log:      log,
		now:      time.Now,
		accounts: make(map[int64]*account.Account),
		locks:    make(map[int64]*sync.Mutex),
		dirty:    make(map[int64]struct{}),
	}
	m.banDuration.Store(int64(DefaultBanDuration))
	return m
}

// OnChange registers a callback fired after accounts are loaded, added,
// deleted or have their ceiling changed.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// SetBanDuration sets the default rate-limit ban.
func (m *Manager) SetBanDuration(d time.Duration) {
	if d <= 0 {
		d = DefaultBanDuration
	}
	m.banDuration.Store(int64(d))
}

// BanDuration returns the default rate-limit ban.
func (m *Manager) BanDuration() time.Duration {
	return time.Duration(m.banDuration.Load())
}

// Load replaces the snapshot with the store's contents.
func (m *Manager) Load(ctx context.Context) error {
	loaded, err := m.repo.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("token: load accounts: %w", err)
	}
	if err := account.CheckLegacyCollisions(loaded); err != nil {
		m.log.Warn().Err(err).Msg("legacy account hints are ambiguous and will be refused")
	}

	m.mu.Lock()
	m.accounts = make(map[int64]*account.Account, len(loaded))
	for i := range loaded {
		a := loaded[i]
		m.accounts[a.ID] = &a
	}
	m.dirty = make(map[int64]struct{})
	m.mu.Unlock()

	m.log.Info().Int("accounts", len(loaded)).Msg("accounts loaded")
	m.notify()
	return nil
}

func (m *Manager) notify() {
	m.mu.RLock()
	hooks := append([]ChangeFunc(nil), m.onChange...)
	m.mu.RUnlock()

	if len(hooks) == 0 {
		return
	}
	snapshot := m.GetAllTokens()
	for _, fn := range hooks {
		fn(snapshot)
	}
}

// GetAllTokens returns copies of every account, ordered by id.
func (m *Manager) GetAllTokens() []account.Account {
	m.mu.RLock()
	out := make([]account.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetToken returns the account with the given id.
func (m *Manager) GetToken(id int64) (account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return account.Account{}, apperr.New(apperr.KindNotFound, "account %d not found", id)
	}
	return *a, nil
}

// GetTokenByEmail returns the account with the given email.
func (m *Manager) GetTokenByEmail(email string) (account.Account, error) {
	email = account.NormalizeEmail(email)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.accounts {
		if account.NormalizeEmail(a.Email) == email {
			return *a, nil
		}
	}
	return account.Account{}, apperr.New(apperr.KindNotFound, "account %q not found", email)
}

// Resolve finds an account from a client-supplied hint: a numeric id, an
// email, or a legacy token prefix.
func (m *Manager) Resolve(hint string) (account.Account, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return account.Account{}, apperr.New(apperr.KindInvalidRequest, "empty account hint")
	}
	if id, err := strconv.ParseInt(hint, 10, 64); err == nil {
		return m.GetToken(id)
	}
	if strings.Contains(hint, "@") {
		return m.GetTokenByEmail(hint)
	}

	a, ok, err := account.MatchLegacy(m.GetAllTokens(), hint)
	if err != nil {
		return account.Account{}, apperr.Wrap(apperr.KindInvalidRequest, err, "ambiguous account hint")
	}
	if !ok {
		return account.Account{}, apperr.New(apperr.KindNotFound, "no account matches hint")
	}
	m.log.Warn().Str("account", a.Email).Msg("account addressed by legacy token prefix")
	return a, nil
}

// Touch records a selection time. It only moves forward and is persisted
// by FlushUsage or the account's next save.
func (m *Manager) Touch(id int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok || !at.After(a.LastUsedAt) {
		return
	}
	a.LastUsedAt = at
	m.dirty[id] = struct{}{}
}

// FlushUsage persists pending last-used stamps.
func (m *Manager) FlushUsage(ctx context.Context) error {
	m.mu.Lock()
	ids := lo.Keys(m.dirty)
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.update(ctx, id, func(*account.Account) error { return nil }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) accountLock(id int64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// update applies fn to a copy of the account, saves it and swaps it in.
// Updates to one account are serialized; other accounts are unaffected.
func (m *Manager) update(ctx context.Context, id int64, fn func(a *account.Account) error) (account.Account, error) {
	l := m.accountLock(id)
	l.Lock()
	defer l.Unlock()

	current, err := m.GetToken(id)
	if err != nil {
		return account.Account{}, err
	}

	next := current
	if err := fn(&next); err != nil {
		return account.Account{}, err
	}

	// Touch does not take the account lock; keep the newest stamp.
	m.mu.RLock()
	if live, ok := m.accounts[id]; ok && live.LastUsedAt.After(next.LastUsedAt) {
		next.LastUsedAt = live.LastUsedAt
	}
	m.mu.RUnlock()

	if err := m.repo.SaveAccount(ctx, &next); err != nil {
		return account.Account{}, apperr.Wrap(apperr.KindInternal, err, "save account %d", id)
	}

	m.mu.Lock()
	if live, ok := m.accounts[id]; ok {
		stored := next
		if live.LastUsedAt.After(stored.LastUsedAt) {
			stored.LastUsedAt = live.LastUsedAt
		} else {
			delete(m.dirty, id)
		}
		m.accounts[id] = &stored
	}
	m.mu.Unlock()

	return next, nil
}
