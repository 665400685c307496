package flow

import (
	"context"
	"net/http"
	"time"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
)

// ExchangeSession mints an access token from a session token. A session
// that yields no access token is reported as auth_expired.
func (c *Client) ExchangeSession(ctx context.Context, sessionToken string) (account.Session, error) {
	if sessionToken == "" {
		return account.Session{}, apperr.New(apperr.KindCredential, "session token is empty")
	}
	res, err := c.do(ctx, &request{
		method:    http.MethodGet,
		url:       c.labsURL("/auth/session"),
		op:        "exchange session",
		cookie:    sessionToken,
		userAgent: UserAgentFor(sessionToken),
		timeout:   c.cfg.GetTimeout(),
	})
	if err != nil {
		return account.Session{}, err
	}

	at := res.Get("access_token").String()
	if at == "" {
		return account.Session{}, apperr.New(apperr.KindAuthExpired, "exchange session: no access token in response")
	}

	sess := account.Session{
		AccessToken: at,
		Email:       account.NormalizeEmail(res.Get("user.email").String()),
		Name:        res.Get("user.name").String(),
	}
	if exp := res.Get("expires").String(); exp != "" {
		if t, perr := time.Parse(time.RFC3339, exp); perr == nil {
			sess.Expiry = t
		} else {
			c.log.Debug().Str("expires", exp).Err(perr).Msg("unparseable session expiry")
		}
	}
	return sess, nil
}

// FetchCredits returns the usage balance of the account's access token.
func (c *Client) FetchCredits(ctx context.Context, a *account.Account) (account.Credits, error) {
	creds := CredentialsFor(a)
	if creds.Token.AccessToken == "" {
		return account.Credits{}, apperr.New(apperr.KindAuthExpired, "fetch credits: account has no access token").WithAccount(a.ID)
	}
	res, err := c.do(ctx, &request{
		method:    http.MethodGet,
		url:       c.apiURL("/credits"),
		op:        "fetch credits",
		token:     creds.Token,
		userAgent: UserAgentFor(creds.userAgentKey()),
		timeout:   c.cfg.GetTimeout(),
		accountID: a.ID,
	})
	if err != nil {
		return account.Credits{}, err
	}
	return account.Credits{
		Credits:     res.Get("credits").Int(),
		PaygateTier: res.Get("userPaygateTier").String(),
	}, nil
}
