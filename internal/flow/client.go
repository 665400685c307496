// Package flow is the upstream API adapter.
//
// Every call returns either a parsed JSON result or an *apperr.Error whose
// Kind tells callers what happened: captcha_rejected, rate_limited,
// auth_expired, transient_error and so on. Nothing above this package looks
// at HTTP status codes.
package flow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/health"
	"github.com/omarluq/flow-relay/internal/ratelimit"
)

const (
	sessionCookie    = "__Secure-next-auth.session-token"
	maxResponseBytes = 32 << 20
	labsOrigin       = "https://labs.google"
)

// CaptchaSource mints reCAPTCHA tokens. The browser service implements it.
type CaptchaSource interface {
	AcquireCaptchaToken(ctx context.Context, accountID int64, projectID string) (string, error)
}

// Credentials are what a call needs to act as one account.
type Credentials struct {
	Token        *oauth2.Token
	Email        string
	SessionToken string
	ProjectID    string
	PaygateTier  string
	AccountID    int64
}

// CredentialsFor extracts call credentials from an account snapshot.
func CredentialsFor(a *account.Account) Credentials {
	return Credentials{
		AccountID:    a.ID,
		Email:        a.Email,
		SessionToken: a.SessionToken,
		Token:        a.BearerToken(),
		ProjectID:    a.ProjectID,
		PaygateTier:  a.PaygateTier,
	}
}

func (c *Credentials) userAgentKey() string {
	if c.Email != "" {
		return c.Email
	}
	return fmt.Sprintf("account-%d", c.AccountID)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPTransport replaces the base transport.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithRateLimits paces calls per account.
func WithRateLimits(r *ratelimit.Registry) Option {
	return func(c *Client) { c.limits = r }
}

// WithCircuits guards calls with per-account circuit breakers.
func WithCircuits(t *health.Tracker) Option {
	return func(c *Client) { c.circuits = t }
}

// Client talks to the labs and generation APIs.
type Client struct {
	base     http.RoundTripper
	captcha  CaptchaSource
	limits   *ratelimit.Registry
	circuits *health.Tracker
	log      *zerolog.Logger
	now      func() time.Time
	debug    atomic.Pointer[DebugOptions]
	cfg      Config
}

// NewClient creates a Client. captcha may be nil when only auth, billing
// and project calls are needed.
func NewClient(cfg Config, captcha CaptchaSource, log *zerolog.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("flow: invalid proxy_url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	c := &Client{
		base:    transport,
		captcha: captcha,
		log:     log,
		now:     time.Now,
		cfg:     cfg,
	}
	c.debug.Store(&DebugOptions{})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetDebug replaces the body logging options.
func (c *Client) SetDebug(d DebugOptions) {
	c.debug.Store(&d)
}

// request is one upstream call.
type request struct {
	body      []byte
	token     *oauth2.Token
	method    string
	url       string
	op        string
	cookie    string
	userAgent string
	timeout   time.Duration
	accountID int64
}

func (c *Client) httpClient(r *request) *http.Client {
	rt := c.base
	if r.token != nil {
		rt = &oauth2.Transport{Source: oauth2.StaticTokenSource(r.token), Base: c.base}
	}
	return &http.Client{Transport: rt, Timeout: r.timeout}
}

// do sends r, pacing and guarding it per account when it carries one.
func (c *Client) do(ctx context.Context, r *request) (gjson.Result, error) {
	if r.accountID != 0 && c.limits != nil {
		if err := c.limits.Wait(ctx, r.accountID); err != nil {
			return gjson.Result{}, apperr.Wrap(apperr.KindTransient, err, "%s: rate limit wait", r.op).WithAccount(r.accountID)
		}
	}

	var res gjson.Result
	run := func() error {
		var err error
		res, err = c.roundTrip(ctx, r)
		return err
	}

	var err error
	if r.accountID != 0 && c.circuits != nil {
		err = c.circuits.Do(r.accountID, run)
	} else {
		err = run()
	}
	if err != nil {
		if e, ok := apperr.As(err); ok && e.AccountID == 0 && r.accountID != 0 {
			return gjson.Result{}, e.WithAccount(r.accountID)
		}
		return gjson.Result{}, err
	}
	return res, nil
}

func (c *Client) roundTrip(ctx context.Context, r *request) (gjson.Result, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindInternal, err, "%s: build request", r.op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", labsOrigin)
	req.Header.Set("Referer", labsOrigin+"/")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	if r.cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: r.cookie})
	}

	dbg := c.debug.Load()
	if dbg.LogRequestBody && r.body != nil {
		c.log.Debug().Str("op", r.op).Str("url", r.url).Str("body", truncate(r.body, dbg.GetMaxBodyLogSize())).Msg("upstream request")
	}

	start := c.now()
	resp, err := c.httpClient(r).Do(req)
	if err != nil {
		return gjson.Result{}, classifyTransport(err, r.op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, classifyTransport(err, r.op)
	}

	ev := c.log.Debug().
		Str("op", r.op).
		Int("status", resp.StatusCode).
		Dur("duration", c.now().Sub(start))
	if dbg.LogResponseBody {
		ev = ev.Str("body", truncate(raw, dbg.GetMaxBodyLogSize()))
	}
	ev.Msg("upstream response")

	if err := classifyResponse(resp.StatusCode, resp.Header, raw); err != nil {
		if e, ok := apperr.As(err); ok {
			return gjson.Result{}, apperr.New(e.Kind, "%s: %s", r.op, e.Message).
				WithStatus(e.Status).
				WithRetryAfter(e.RetryAfter.OrEmpty())
		}
		return gjson.Result{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, apperr.New(apperr.KindUpstream, "%s: invalid JSON response", r.op).WithStatus(resp.StatusCode)
	}
	return gjson.ParseBytes(raw), nil
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "...(truncated)"
}

func (c *Client) labsURL(path string) string {
	return strings.TrimRight(c.cfg.GetLabsBaseURL(), "/") + path
}

func (c *Client) apiURL(path string) string {
	return strings.TrimRight(c.cfg.GetAPIBaseURL(), "/") + path
}
