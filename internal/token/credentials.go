package token

import (
	"context"
	"errors"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
)

// EnsureAccessToken returns the account with a usable access token,
// exchanging the session token when the current one is missing or stale.
func (m *Manager) EnsureAccessToken(ctx context.Context, id int64) (account.Account, error) {
	a, err := m.GetToken(id)
	if err != nil {
		return account.Account{}, err
	}
	if a.AccessTokenValid(m.now()) {
		return a, nil
	}
	return m.refreshAccessToken(ctx, id, false)
}

// RefreshAccessToken re-derives the access token from the session token
// unconditionally. A rejected session token yields a credential_error.
func (m *Manager) RefreshAccessToken(ctx context.Context, id int64) (account.Account, error) {
	return m.refreshAccessToken(ctx, id, true)
}

func (m *Manager) refreshAccessToken(ctx context.Context, id int64, force bool) (account.Account, error) {
	return m.update(ctx, id, func(a *account.Account) error {
		// Another request may have refreshed while we waited for the lock.
		if !force && a.AccessTokenValid(m.now()) {
			return nil
		}

		sess, err := m.client.ExchangeSession(ctx, a.SessionToken)
		if err != nil {
			m.log.Warn().Err(err).Int64("account_id", a.ID).Str("email", a.Email).Msg("access token refresh failed")
			return classifyExchangeError(err, a.ID)
		}

		a.AccessToken = sess.AccessToken
		a.AccessTokenExpiry = sess.Expiry
		if a.Email == "" && sess.Email != "" {
			a.Email = account.NormalizeEmail(sess.Email)
		}
		m.log.Debug().Int64("account_id", a.ID).Time("expires", sess.Expiry).Msg("access token refreshed")
		return nil
	})
}

// classifyExchangeError maps a rejected session token to credential_error.
// Transport failures keep their own kind.
func classifyExchangeError(err error, id int64) error {
	switch apperr.KindOf(err) {
	case apperr.KindAuthExpired, apperr.KindCredential:
		return apperr.Wrap(apperr.KindCredential, err, "session token rejected; account needs re-authentication").WithAccount(id)
	default:
		return err
	}
}

// RefreshCredits fetches and persists the account's balance. An expired
// access token is re-derived once before giving up. Failures are logged and
// returned; callers on background paths only log them.
func (m *Manager) RefreshCredits(ctx context.Context, id int64) (account.Account, error) {
	a, err := m.EnsureAccessToken(ctx, id)
	if err != nil {
		m.log.Warn().Err(err).Int64("account_id", id).Msg("credit refresh skipped: no access token")
		return account.Account{}, err
	}

	credits, err := m.client.FetchCredits(ctx, &a)
	if apperr.IsKind(err, apperr.KindAuthExpired) {
		if a, err = m.RefreshAccessToken(ctx, id); err == nil {
			credits, err = m.client.FetchCredits(ctx, &a)
		}
	}
	if err != nil {
		m.log.Warn().Err(err).Int64("account_id", id).Str("email", a.Email).Msg("credit refresh failed")
		return account.Account{}, err
	}

	return m.update(ctx, id, func(a *account.Account) error {
		a.Credits = credits.Credits
		if credits.PaygateTier != "" {
			a.PaygateTier = credits.PaygateTier
		}
		return nil
	})
}

// RefreshAllCredits refreshes credits for every active account.
func (m *Manager) RefreshAllCredits(ctx context.Context) (int, error) {
	return m.sweep(ctx, "credits", func(a *account.Account) bool { return a.IsActive }, func(a *account.Account) (bool, error) {
		_, err := m.RefreshCredits(ctx, a.ID)
		return err == nil, err
	})
}

// RefreshSessionToken samples a fresh session token for one account from
// its browser context and persists it when it changed.
func (m *Manager) RefreshSessionToken(ctx context.Context, id int64) (bool, error) {
	if m.sampler == nil {
		return false, apperr.New(apperr.KindUnavailable, "browser session sampling is disabled")
	}

	a, err := m.GetToken(id)
	if err != nil {
		return false, err
	}

	st, err := m.sampler.RefreshSessionToken(ctx, a.ID, a.ProjectID)
	if err != nil {
		return false, err
	}
	if st == "" || st == a.SessionToken {
		return false, nil
	}

	_, err = m.update(ctx, id, func(a *account.Account) error {
		a.SessionToken = st
		return nil
	})
	if err != nil {
		return false, err
	}
	m.log.Info().Int64("account_id", id).Str("email", a.Email).Msg("session token refreshed from browser")
	return true, nil
}

// ProactiveRefreshAllST re-samples session tokens for all active accounts.
// It returns how many changed; one account failing does not stop the rest.
func (m *Manager) ProactiveRefreshAllST(ctx context.Context) (int, error) {
	if m.sampler == nil {
		return 0, nil
	}
	return m.sweep(ctx, "session", func(a *account.Account) bool { return a.IsActive }, func(a *account.Account) (bool, error) {
		return m.RefreshSessionToken(ctx, a.ID)
	})
}

// sweep runs fn for every matching account with per-account containment.
// It stops early only when ctx is done.
func (m *Manager) sweep(
	ctx context.Context,
	name string,
	match func(a *account.Account) bool,
	fn func(a *account.Account) (bool, error),
) (int, error) {
	var (
		changed int
		errs    []error
	)
	for _, a := range m.GetAllTokens() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !match(&a) {
			continue
		}

		ok, err := m.safeRun(&a, fn)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}

	err := errors.Join(errs...)
	ev := m.log.Info()
	if err != nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("sweep", name).Int("changed", changed).Int("failed", len(errs)).Msg("account sweep finished")
	return changed, err
}

func (m *Manager) safeRun(a *account.Account, fn func(a *account.Account) (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindInternal, "account %d: panic: %v", a.ID, r)
		}
	}()
	return fn(a)
}
