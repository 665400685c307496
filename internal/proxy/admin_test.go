package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/concurrency"
	"github.com/omarluq/flow-relay/internal/health"
	"github.com/omarluq/flow-relay/internal/scheduler"
	"github.com/omarluq/flow-relay/internal/store"
	"github.com/omarluq/flow-relay/internal/token"
)

type fakeAccounts struct {
	accounts map[int64]account.Account
	nextID   int64
	mu       sync.Mutex
}

func newFakeAccounts(accounts ...account.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[int64]account.Account), nextID: 100}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) GetAllTokens() []account.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]account.Account, 0, len(f.accounts))
	for id := int64(1); id <= f.nextID; id++ {
		if a, ok := f.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeAccounts) GetToken(id int64) (account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return account.Account{}, apperr.New(apperr.KindNotFound, "account %d not found", id)
	}
	return a, nil
}

func (f *fakeAccounts) AddAccount(_ context.Context, in token.NewAccount) (account.Account, error) {
	if in.SessionToken == "" {
		return account.Account{}, apperr.New(apperr.KindInvalidRequest, "session token is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a := account.Account{
		ID:             f.nextID,
		Email:          fmt.Sprintf("user%d@example.com", f.nextID),
		SessionToken:   in.SessionToken,
		MaxConcurrency: in.MaxConcurrency,
		IsActive:       !in.Inactive,
		BanState:       account.BanNone,
	}
	f.accounts[a.ID] = a
	return a, nil
}

func (f *fakeAccounts) DeleteAccount(_ context.Context, id int64) error {
	if _, err := f.GetToken(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, id)
	return nil
}

func (f *fakeAccounts) mutate(id int64, fn func(a *account.Account)) (account.Account, error) {
	a, err := f.GetToken(id)
	if err != nil {
		return account.Account{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&a)
	f.accounts[id] = a
	return a, nil
}

func (f *fakeAccounts) SetActive(_ context.Context, id int64, active bool) (account.Account, error) {
	return f.mutate(id, func(a *account.Account) { a.IsActive = active })
}

func (f *fakeAccounts) SetMaxConcurrency(_ context.Context, id int64, n int) (account.Account, error) {
	if n < 0 {
		return account.Account{}, apperr.New(apperr.KindInvalidRequest, "max_concurrency must be >= 0")
	}
	return f.mutate(id, func(a *account.Account) { a.MaxConcurrency = n })
}

func (f *fakeAccounts) Unban(_ context.Context, id int64) (bool, error) {
	a, err := f.GetToken(id)
	if err != nil {
		return false, err
	}
	if a.BanState == account.BanNone {
		return false, nil
	}
	_, err = f.mutate(id, func(a *account.Account) {
		a.BanState = account.BanNone
		a.BannedUntil = time.Time{}
	})
	return true, err
}

func (f *fakeAccounts) RefreshCredits(_ context.Context, id int64) (account.Account, error) {
	return f.mutate(id, func(a *account.Account) { a.Credits = 42 })
}

func (f *fakeAccounts) RefreshSessionToken(_ context.Context, _ int64) (bool, error) {
	return false, apperr.New(apperr.KindUnavailable, "browser session sampling is disabled")
}

type fakePool struct{}

func (fakePool) Snapshot() []concurrency.SlotState {
	return []concurrency.SlotState{{AccountID: 1, InFlight: 2, Ceiling: 3}}
}

type fakeCircuits struct{}

func (fakeCircuits) AllStates() map[int64]health.State {
	return map[int64]health.State{1: health.StateOpen}
}

type fakeTasks struct {
	ran []string
	mu  sync.Mutex
}

func (f *fakeTasks) Status() []scheduler.TaskStatus {
	return []scheduler.TaskStatus{{Name: scheduler.TaskUnban, Interval: time.Hour.String()}}
}

func (f *fakeTasks) RunNow(_ context.Context, name string) error {
	switch name {
	case scheduler.TaskUnban:
		f.mu.Lock()
		f.ran = append(f.ran, name)
		f.mu.Unlock()
		return nil
	case scheduler.TaskRefresh:
		return fmt.Errorf("refresh exploded")
	default:
		return fmt.Errorf("%w: %s", scheduler.ErrUnknownTask, name)
	}
}

type fakeSettings struct {
	quota store.QuotaConfig
	debug store.DebugConfig
	mu    sync.Mutex
}

func (f *fakeSettings) Quota() store.QuotaConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quota
}

func (f *fakeSettings) Debug() store.DebugConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.debug
}

func (f *fakeSettings) UpdateQuota(_ context.Context, cfg store.QuotaConfig) (store.QuotaConfig, error) {
	if cfg.MaxConcurrency < 1 {
		return store.QuotaConfig{}, apperr.New(apperr.KindInvalidRequest, "max_concurrency must be >= 1")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota = cfg
	return cfg, nil
}

func (f *fakeSettings) UpdateDebug(_ context.Context, cfg store.DebugConfig) (store.DebugConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debug = cfg
	return cfg, nil
}

func newTestAdmin() (*Admin, *fakeAccounts, *fakeTasks, *fakeSettings) {
	accounts := newFakeAccounts(
		account.Account{ID: 1, Email: "a@example.com", SessionToken: "st-aaaaaaaaaaaaaaaa", IsActive: true, BanState: account.BanNone},
		account.Account{
			ID: 2, Email: "b@example.com", SessionToken: "short", IsActive: true,
			BanState: account.BanRateLimited, BannedUntil: time.Now().Add(time.Hour), BanReason: "429",
		},
	)
	tasks := &fakeTasks{}
	settings := &fakeSettings{quota: store.QuotaConfig{MaxConcurrency: 3, RateLimitBan: time.Hour}}
	return NewAdmin(accounts, fakePool{}, fakeCircuits{}, tasks, settings), accounts, tasks, settings
}

func adminRouter(a *Admin) http.Handler {
	r := chi.NewRouter()
	r.Route("/admin", a.Mount)
	return r
}

func call(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminListAccountsRedacts(t *testing.T) {
	t.Parallel()

	admin, _, _, _ := newTestAdmin()
	rec := call(adminRouter(admin), http.MethodGet, "/admin/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Accounts []AccountView `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accounts, 2)

	first := body.Accounts[0]
	assert.Equal(t, "st-aaa***", first.SessionToken)
	assert.Equal(t, int64(2), first.InFlight)
	assert.Equal(t, int64(3), first.Ceiling)
	assert.Equal(t, "open", first.Circuit)
	assert.NotContains(t, rec.Body.String(), "st-aaaaaaaaaaaaaaaa")

	second := body.Accounts[1]
	assert.Equal(t, "***", second.SessionToken)
	assert.Equal(t, string(account.BanRateLimited), second.BanState)
	assert.False(t, second.BannedUntil.IsZero())
}

func TestAdminAccountLifecycle(t *testing.T) {
	t.Parallel()

	admin, accounts, _, _ := newTestAdmin()
	h := adminRouter(admin)

	rec := call(h, http.MethodPost, "/admin/accounts", `{"session_token":"st-new-token-value","max_concurrency":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var added AccountView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, 2, added.MaxConcurrency)
	assert.True(t, added.IsActive)

	path := fmt.Sprintf("/admin/accounts/%d", added.ID)

	rec = call(h, http.MethodPost, path+"/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	a, err := accounts.GetToken(added.ID)
	require.NoError(t, err)
	assert.False(t, a.IsActive)

	rec = call(h, http.MethodPost, path+"/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(h, http.MethodPut, path+"/concurrency", `{"max_concurrency":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	a, err = accounts.GetToken(added.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, a.MaxConcurrency)

	rec = call(h, http.MethodPost, path+"/refresh-credits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"credits":42`)

	rec = call(h, http.MethodPost, path+"/refresh-session", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = call(h, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(h, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAccountErrors(t *testing.T) {
	t.Parallel()

	admin, _, _, _ := newTestAdmin()
	h := adminRouter(admin)

	assert.Equal(t, http.StatusBadRequest, call(h, http.MethodGet, "/admin/accounts/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, call(h, http.MethodGet, "/admin/accounts/0", "").Code)
	assert.Equal(t, http.StatusBadRequest, call(h, http.MethodPost, "/admin/accounts", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(h, http.MethodPut, "/admin/accounts/1/concurrency", `{"max_concurrency":-1}`).Code)
}

func TestAdminUnban(t *testing.T) {
	t.Parallel()

	admin, _, _, _ := newTestAdmin()
	h := adminRouter(admin)

	rec := call(h, http.MethodPost, "/admin/accounts/2/unban", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unbanned":true}`, rec.Body.String())

	rec = call(h, http.MethodPost, "/admin/accounts/2/unban", "")
	assert.JSONEq(t, `{"unbanned":false}`, rec.Body.String())
}

func TestAdminTasks(t *testing.T) {
	t.Parallel()

	admin, _, tasks, _ := newTestAdmin()
	h := adminRouter(admin)

	rec := call(h, http.MethodGet, "/admin/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), scheduler.TaskUnban)

	rec = call(h, http.MethodPost, "/admin/tasks/unban/run", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{scheduler.TaskUnban}, tasks.ran)

	rec = call(h, http.MethodPost, "/admin/tasks/nope/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(h, http.MethodPost, "/admin/tasks/refresh/run", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "refresh exploded")
}

func TestAdminSettings(t *testing.T) {
	t.Parallel()

	admin, _, _, settings := newTestAdmin()
	h := adminRouter(admin)

	rec := call(h, http.MethodGet, "/admin/config/quota", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"max_concurrency":3,"rate_limit_ban_seconds":3600}`, rec.Body.String())

	rec = call(h, http.MethodPut, "/admin/config/quota", `{"max_concurrency":5,"rate_limit_ban_seconds":600}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.QuotaConfig{MaxConcurrency: 5, RateLimitBan: 10 * time.Minute}, settings.Quota())

	rec = call(h, http.MethodPut, "/admin/config/quota", `{"max_concurrency":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h, http.MethodPut, "/admin/config/debug", `{"enabled":true,"log_request_body":true,"max_body_log_size":512}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.DebugConfig{Enabled: true, LogRequestBody: true, MaxBodyLogSize: 512}, settings.Debug())

	rec = call(h, http.MethodGet, "/admin/config/debug", "")
	assert.Contains(t, rec.Body.String(), `"max_body_log_size":512`)
}

func TestAdminPool(t *testing.T) {
	t.Parallel()

	admin, _, _, _ := newTestAdmin()
	rec := call(adminRouter(admin), http.MethodGet, "/admin/pool", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"slots":[{"account_id":1,"in_flight":2,"ceiling":3}]}`, rec.Body.String())
}

func TestRedactToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "***", RedactToken(""))
	assert.Equal(t, "***", RedactToken("twelve-chars"))
	assert.Equal(t, "abcdef***", RedactToken("abcdefghijklmnop"))
}
