package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/store"
)

// MarkRateLimited bans the account until now+d. A non-positive d uses the
// default ban duration.
func (m *Manager) MarkRateLimited(ctx context.Context, id int64, d time.Duration, reason string) error {
	if d <= 0 {
		d = m.BanDuration()
	}
	until := m.now().Add(d)

	_, err := m.update(ctx, id, func(a *account.Account) error {
		a.BanState = account.BanRateLimited
		a.BannedUntil = until
		a.BanReason = reason
		return nil
	})
	if err != nil {
		return err
	}

	m.log.Warn().
		Int64("account_id", id).
		Time("banned_until", until).
		Str("reason", reason).
		Msg("account rate limited")
	return nil
}

// AutoUnban429Tokens clears every rate-limit ban whose deadline has passed
// and returns how many were cleared. With nothing expired it changes nothing.
func (m *Manager) AutoUnban429Tokens(ctx context.Context) (int, error) {
	now := m.now()
	return m.sweep(ctx, "unban", func(a *account.Account) bool { return a.BanExpired(now) }, func(a *account.Account) (bool, error) {
		return m.clearBan(ctx, a.ID, func(cur *account.Account) bool { return cur.BanExpired(now) })
	})
}

// Unban clears the account's ban regardless of its deadline.
func (m *Manager) Unban(ctx context.Context, id int64) (bool, error) {
	return m.clearBan(ctx, id, (*account.Account).Banned)
}

func (m *Manager) clearBan(ctx context.Context, id int64, when func(a *account.Account) bool) (bool, error) {
	cleared := false
	_, err := m.update(ctx, id, func(a *account.Account) error {
		if !when(a) {
			return errUnchanged
		}
		a.BanState = account.BanNone
		a.BannedUntil = time.Time{}
		a.BanReason = ""
		cleared = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.log.Info().Int64("account_id", id).Msg("account unbanned")
	return cleared, nil
}

// errUnchanged aborts an update without saving.
var errUnchanged = errors.New("token: unchanged")

// SetActive activates or deactivates an account. Deactivation is
// independent of any ban.
func (m *Manager) SetActive(ctx context.Context, id int64, active bool) (account.Account, error) {
	a, err := m.update(ctx, id, func(a *account.Account) error {
		a.IsActive = active
		return nil
	})
	if err != nil {
		return account.Account{}, err
	}
	m.log.Info().Int64("account_id", id).Bool("active", active).Msg("account activation changed")
	return a, nil
}

// SetProject records the account's default upstream project.
func (m *Manager) SetProject(ctx context.Context, id int64, projectID string) error {
	_, err := m.update(ctx, id, func(a *account.Account) error {
		a.ProjectID = projectID
		return nil
	})
	return err
}

// SetMaxConcurrency sets the account's own admission ceiling; zero means
// the pool default.
func (m *Manager) SetMaxConcurrency(ctx context.Context, id int64, n int) (account.Account, error) {
	if n < 0 {
		return account.Account{}, apperr.New(apperr.KindInvalidRequest, "max_concurrency must be >= 0")
	}
	a, err := m.update(ctx, id, func(a *account.Account) error {
		a.MaxConcurrency = n
		return nil
	})
	if err != nil {
		return account.Account{}, err
	}
	m.notify()
	return a, nil
}

// NewAccount describes an account to add by session token.
type NewAccount struct {
	SessionToken   string
	MaxConcurrency int
	Inactive       bool
}

// AddAccount validates a session token upstream, learns its email and
// stores the new account. Adding an email that already exists fails.
func (m *Manager) AddAccount(ctx context.Context, in NewAccount) (account.Account, error) {
	st := strings.TrimSpace(in.SessionToken)
	if st == "" {
		return account.Account{}, apperr.New(apperr.KindInvalidRequest, "session token is required")
	}
	if in.MaxConcurrency < 0 {
		return account.Account{}, apperr.New(apperr.KindInvalidRequest, "max_concurrency must be >= 0")
	}

	sess, err := m.client.ExchangeSession(ctx, st)
	if err != nil {
		return account.Account{}, classifyExchangeError(err, 0)
	}
	email := account.NormalizeEmail(sess.Email)
	if email == "" {
		return account.Account{}, apperr.New(apperr.KindCredential, "session did not report an email")
	}

	a, created, err := m.Import(ctx, account.Account{
		Email:             email,
		SessionToken:      st,
		AccessToken:       sess.AccessToken,
		AccessTokenExpiry: sess.Expiry,
		IsActive:          !in.Inactive,
		MaxConcurrency:    in.MaxConcurrency,
	})
	if err != nil {
		return account.Account{}, err
	}
	if !created {
		return account.Account{}, apperr.New(apperr.KindInvalidRequest, "account %q already exists", email)
	}

	if _, err := m.RefreshCredits(ctx, a.ID); err == nil {
		a, _ = m.GetToken(a.ID)
	}
	return a, nil
}

// Import stores a fully formed account unless its email is already known.
// It reports whether a new record was created.
func (m *Manager) Import(ctx context.Context, a account.Account) (account.Account, bool, error) {
	a.Email = account.NormalizeEmail(a.Email)
	if a.Email == "" {
		return account.Account{}, false, apperr.New(apperr.KindInvalidRequest, "email is required")
	}
	if existing, err := m.GetTokenByEmail(a.Email); err == nil {
		return existing, false, nil
	}

	a.ID = 0
	if a.BanState == "" {
		a.BanState = account.BanNone
	}
	if err := m.repo.SaveAccount(ctx, &a); err != nil {
		if errors.Is(err, store.ErrMissingSessionToken) {
			return account.Account{}, false, apperr.Wrap(apperr.KindInvalidRequest, err, "import %s", a.Email)
		}
		return account.Account{}, false, apperr.Wrap(apperr.KindInternal, err, "import %s", a.Email)
	}

	m.mu.Lock()
	stored := a
	m.accounts[a.ID] = &stored
	m.mu.Unlock()

	m.log.Info().Int64("account_id", a.ID).Str("email", a.Email).Msg("account added")
	m.notify()
	return a, true, nil
}

// DeleteAccount removes an account from the store and the snapshot.
func (m *Manager) DeleteAccount(ctx context.Context, id int64) error {
	l := m.accountLock(id)
	l.Lock()
	defer l.Unlock()

	if _, err := m.GetToken(id); err != nil {
		return err
	}
	if err := m.repo.DeleteAccount(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.KindInternal, err, "delete account %d", id)
	}

	m.mu.Lock()
	delete(m.accounts, id)
	delete(m.dirty, id)
	m.mu.Unlock()

	m.log.Info().Int64("account_id", id).Msg("account deleted")
	m.notify()
	return nil
}

// Seed adds each account whose session token is not stored yet. One bad
// token does not stop the rest; the returned count is how many were added.
func (m *Manager) Seed(ctx context.Context, accounts []NewAccount) (int, error) {
	known := make(map[string]struct{})
	for _, a := range m.GetAllTokens() {
		known[a.SessionToken] = struct{}{}
	}

	var errs []error
	added := 0
	for i, in := range accounts {
		st := strings.TrimSpace(in.SessionToken)
		if _, ok := known[st]; ok {
			continue
		}
		a, err := m.AddAccount(ctx, in)
		if err != nil {
			if apperr.IsKind(err, apperr.KindInvalidRequest) && st != "" {
				m.log.Debug().Err(err).Int("index", i).Msg("seed account skipped")
				continue
			}
			errs = append(errs, fmt.Errorf("account %d: %w", i, err))
			continue
		}
		known[st] = struct{}{}
		added++
		m.log.Info().Int64("account_id", a.ID).Str("email", a.Email).Msg("seeded account from config")
	}
	return added, errors.Join(errs...)
}
