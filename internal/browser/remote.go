package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/omarluq/flow-relay/internal/apperr"
)

const maxResponseBytes = 1 << 20

// RemoteService drives a browser-automation sidecar over HTTP. The sidecar
// keeps one browser context per account; this client serializes calls per
// account so the sidecar never sees two concurrent operations on one
// context.
type RemoteService struct {
	client *http.Client
	proxy  *ProxyConfig
	log    *zerolog.Logger
	locks  map[int64]chan struct{}
	cfg    Config
	mu     sync.Mutex
	closed atomic.Bool
}

// NewRemoteService creates a RemoteService for cfg.BaseURL.
func NewRemoteService(cfg Config, log *zerolog.Logger) (*RemoteService, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("browser: base_url is required in remote mode")
	}
	proxy, err := ParseProxyURL(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &RemoteService{
		client: &http.Client{Timeout: cfg.GetTimeout()},
		proxy:  proxy,
		log:    log,
		locks:  make(map[int64]chan struct{}),
		cfg:    cfg,
	}, nil
}

// lockAccount waits for the account's turn or ctx. The returned func unlocks.
func (s *RemoteService) lockAccount(ctx context.Context, accountID int64) (func(), error) {
	s.mu.Lock()
	ch, ok := s.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[accountID] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindTransient, ctx.Err(), "waiting for browser context %d", accountID)
	}
}

func (s *RemoteService) accountBody(accountID int64, projectID string) []byte {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "account_id", accountID)
	body, _ = sjson.SetBytes(body, "project_id", projectID)
	if s.proxy != nil {
		body, _ = sjson.SetBytes(body, "proxy.server", s.proxy.Server())
		if s.proxy.Username != "" {
			body, _ = sjson.SetBytes(body, "proxy.username", s.proxy.Username)
			body, _ = sjson.SetBytes(body, "proxy.password", s.proxy.Password)
		}
	}
	return body
}

// AcquireCaptchaToken implements Service.
func (s *RemoteService) AcquireCaptchaToken(ctx context.Context, accountID int64, projectID string) (string, error) {
	body := s.accountBody(accountID, projectID)
	body, _ = sjson.SetBytes(body, "website_key", s.cfg.GetWebsiteKey())
	body, _ = sjson.SetBytes(body, "website_url", s.cfg.ProjectURL(projectID))
	body, _ = sjson.SetBytes(body, "action", s.cfg.GetAction())

	res, err := s.callLocked(ctx, accountID, "/v1/captcha", body)
	if err != nil {
		return "", err
	}
	return res.Get("token").String(), nil
}

// RefreshSessionToken implements Service.
func (s *RemoteService) RefreshSessionToken(ctx context.Context, accountID int64, projectID string) (string, error) {
	res, err := s.callLocked(ctx, accountID, "/v1/session", s.accountBody(accountID, projectID))
	if err != nil {
		return "", err
	}
	return res.Get("session_token").String(), nil
}

// KeepAlive implements Service.
func (s *RemoteService) KeepAlive(ctx context.Context) error {
	res, err := s.call(ctx, "/v1/keepalive", []byte(`{}`))
	if err != nil {
		return err
	}
	s.log.Debug().Int64("contexts", res.Get("refreshed").Int()).Msg("browser contexts kept alive")
	return nil
}

// Close implements Service.
func (s *RemoteService) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.client.CloseIdleConnections()
	return nil
}

func (s *RemoteService) callLocked(ctx context.Context, accountID int64, path string, body []byte) (gjson.Result, error) {
	unlock, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return gjson.Result{}, err
	}
	defer unlock()
	return s.call(ctx, path, body)
}

func (s *RemoteService) call(ctx context.Context, path string, body []byte) (gjson.Result, error) {
	if s.closed.Load() {
		return gjson.Result{}, apperr.Wrap(apperr.KindUnavailable, ErrClosed, "%s", path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindInternal, err, "build browser request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindTransient, err, "browser %s", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindTransient, err, "read browser %s", path)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		kind := apperr.KindUpstream
		if resp.StatusCode >= http.StatusInternalServerError {
			kind = apperr.KindTransient
		}
		return gjson.Result{}, apperr.New(kind, "browser %s: %s", path, msg).WithStatus(resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, apperr.New(apperr.KindUpstream, "browser %s: invalid JSON response", path)
	}
	return gjson.ParseBytes(raw), nil
}

// New builds the Service selected by cfg.
func New(cfg Config, log *zerolog.Logger) (Service, error) {
	switch cfg.GetMode() {
	case ModeDisabled:
		return NoopService{}, nil
	case ModeRemote:
		return NewRemoteService(cfg, log)
	default:
		return nil, fmt.Errorf("browser: unknown mode %q", cfg.Mode)
	}
}
