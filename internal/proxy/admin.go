package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/concurrency"
	"github.com/omarluq/flow-relay/internal/health"
	"github.com/omarluq/flow-relay/internal/scheduler"
	"github.com/omarluq/flow-relay/internal/store"
	"github.com/omarluq/flow-relay/internal/token"
)

// AccountService is the token manager surface used by the admin API.
type AccountService interface {
	GetAllTokens() []account.Account
	GetToken(id int64) (account.Account, error)
	AddAccount(ctx context.Context, in token.NewAccount) (account.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) (account.Account, error)
	SetMaxConcurrency(ctx context.Context, id int64, n int) (account.Account, error)
	Unban(ctx context.Context, id int64) (bool, error)
	RefreshCredits(ctx context.Context, id int64) (account.Account, error)
	RefreshSessionToken(ctx context.Context, id int64) (bool, error)
}

// PoolView exposes admission and breaker state per account.
type PoolView interface {
	Snapshot() []concurrency.SlotState
}

// CircuitView exposes per-account breaker state.
type CircuitView interface {
	AllStates() map[int64]health.State
}

// TaskRunner exposes the background task supervisor.
type TaskRunner interface {
	Status() []scheduler.TaskStatus
	RunNow(ctx context.Context, name string) error
}

// SettingsService reads and writes the persisted runtime settings.
type SettingsService interface {
	Quota() store.QuotaConfig
	Debug() store.DebugConfig
	UpdateQuota(ctx context.Context, cfg store.QuotaConfig) (store.QuotaConfig, error)
	UpdateDebug(ctx context.Context, cfg store.DebugConfig) (store.DebugConfig, error)
}

// AccountView is the redacted JSON form of an account.
type AccountView struct {
	BannedUntil       time.Time `json:"banned_until,omitzero"`
	LastUsedAt        time.Time `json:"last_used_at,omitzero"`
	AccessTokenExpiry time.Time `json:"access_token_expiry,omitzero"`
	Email             string    `json:"email"`
	Status            string    `json:"status"`
	BanState          string    `json:"ban_state"`
	BanReason         string    `json:"ban_reason,omitempty"`
	PaygateTier       string    `json:"paygate_tier,omitempty"`
	ProjectID         string    `json:"project_id,omitempty"`
	SessionToken      string    `json:"session_token"`
	Circuit           string    `json:"circuit,omitempty"`
	ID                int64     `json:"id"`
	Credits           int64     `json:"credits"`
	InFlight          int64     `json:"in_flight"`
	Ceiling           int64     `json:"ceiling"`
	MaxConcurrency    int       `json:"max_concurrency"`
	IsActive          bool      `json:"is_active"`
}

// QuotaView is the JSON form of the quota settings.
type QuotaView struct {
	MaxConcurrency      int   `json:"max_concurrency"`
	RateLimitBanSeconds int64 `json:"rate_limit_ban_seconds"`
}

// DebugView is the JSON form of the debug settings.
type DebugView struct {
	MaxBodyLogSize  int  `json:"max_body_log_size"`
	Enabled         bool `json:"enabled"`
	LogRequestBody  bool `json:"log_request_body"`
	LogResponseBody bool `json:"log_response_body"`
}

// AddAccountRequest is the body of POST /admin/accounts.
type AddAccountRequest struct {
	SessionToken   string `json:"session_token"`
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
	Inactive       bool   `json:"inactive,omitempty"`
}

// ConcurrencyRequest is the body of PUT /admin/accounts/{id}/concurrency.
type ConcurrencyRequest struct {
	MaxConcurrency int `json:"max_concurrency"`
}

// Admin serves the operator API.
type Admin struct {
	accounts AccountService
	pool     PoolView
	circuits CircuitView
	tasks    TaskRunner
	settings SettingsService
}

// NewAdmin creates an Admin. circuits may be nil when breakers are off.
func NewAdmin(accounts AccountService, pool PoolView, circuits CircuitView, tasks TaskRunner, settings SettingsService) *Admin {
	return &Admin{accounts: accounts, pool: pool, circuits: circuits, tasks: tasks, settings: settings}
}

// Mount registers the admin routes on r.
func (a *Admin) Mount(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", a.listAccounts)
		r.Post("/", a.addAccount)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getAccount)
			r.Delete("/", a.deleteAccount)
			r.Post("/activate", a.setActive(true))
			r.Post("/deactivate", a.setActive(false))
			r.Post("/unban", a.unban)
			r.Post("/refresh-credits", a.refreshCredits)
			r.Post("/refresh-session", a.refreshSession)
			r.Put("/concurrency", a.setConcurrency)
		})
	})
	r.Get("/pool", a.poolSnapshot)
	r.Get("/tasks", a.listTasks)
	r.Post("/tasks/{name}/run", a.runTask)
	r.Get("/config/quota", a.getQuota)
	r.Put("/config/quota", a.putQuota)
	r.Get("/config/debug", a.getDebug)
	r.Put("/config/debug", a.putDebug)
}

// RedactToken keeps a short prefix of a secret for identification.
func RedactToken(secret string) string {
	const keep = 6
	if len(secret) <= keep*2 {
		return "***"
	}
	return secret[:keep] + "***"
}

func (a *Admin) views(accounts []account.Account) []AccountView {
	slots := lo.KeyBy(a.pool.Snapshot(), func(s concurrency.SlotState) int64 { return s.AccountID })
	var states map[int64]health.State
	if a.circuits != nil {
		states = a.circuits.AllStates()
	}

	return lo.Map(accounts, func(acc account.Account, _ int) AccountView {
		v := AccountView{
			BannedUntil:       acc.BannedUntil,
			LastUsedAt:        acc.LastUsedAt,
			AccessTokenExpiry: acc.AccessTokenExpiry,
			Email:             acc.Email,
			Status:            string(acc.Status()),
			BanState:          string(acc.BanState),
			BanReason:         acc.BanReason,
			PaygateTier:       acc.PaygateTier,
			ProjectID:         acc.ProjectID,
			SessionToken:      RedactToken(acc.SessionToken),
			ID:                acc.ID,
			Credits:           acc.Credits,
			MaxConcurrency:    acc.MaxConcurrency,
			IsActive:          acc.IsActive,
		}
		if s, ok := slots[acc.ID]; ok {
			v.InFlight = s.InFlight
			v.Ceiling = s.Ceiling
		}
		if st, ok := states[acc.ID]; ok {
			v.Circuit = st.String()
		}
		return v
	})
}

func (a *Admin) view(acc account.Account) AccountView {
	return a.views([]account.Account{acc})[0]
}

func accountID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.KindInvalidRequest, "invalid account id %q", raw)
	}
	return id, nil
}

func (a *Admin) listAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"accounts": a.views(a.accounts.GetAllTokens())})
}

func (a *Admin) addAccount(w http.ResponseWriter, r *http.Request) {
	var body AddAccountRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	acc, err := a.accounts.AddAccount(r.Context(), token.NewAccount{
		SessionToken:   body.SessionToken,
		MaxConcurrency: body.MaxConcurrency,
		Inactive:       body.Inactive,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.view(acc))
}

func (a *Admin) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	acc, err := a.accounts.GetToken(id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(acc))
}

func (a *Admin) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := a.accounts.DeleteAccount(r.Context(), id); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := accountID(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		acc, err := a.accounts.SetActive(r.Context(), id, active)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a.view(acc))
	}
}

func (a *Admin) unban(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	changed, err := a.accounts.Unban(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unbanned": changed})
}

func (a *Admin) refreshCredits(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	acc, err := a.accounts.RefreshCredits(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(acc))
}

func (a *Admin) refreshSession(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	changed, err := a.accounts.RefreshSessionToken(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": changed})
}

func (a *Admin) setConcurrency(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body ConcurrencyRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	acc, err := a.accounts.SetMaxConcurrency(r.Context(), id, body.MaxConcurrency)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(acc))
}

func (a *Admin) poolSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"slots": a.pool.Snapshot()})
}

func (a *Admin) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": a.tasks.Status()})
}

func (a *Admin) runTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.tasks.RunNow(r.Context(), name); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrUnknownTask):
			err = apperr.Wrap(apperr.KindNotFound, err, "task %q", name)
		case apperr.KindOf(err) == apperr.KindInternal:
			err = apperr.Wrap(apperr.KindInternal, err, "task %q failed", name)
		}
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task": name, "status": "ok"})
}

func quotaView(q store.QuotaConfig) QuotaView {
	return QuotaView{MaxConcurrency: q.MaxConcurrency, RateLimitBanSeconds: int64(q.RateLimitBan / time.Second)}
}

func debugView(d store.DebugConfig) DebugView {
	return DebugView(d)
}

func (a *Admin) getQuota(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, quotaView(a.settings.Quota()))
}

func (a *Admin) putQuota(w http.ResponseWriter, r *http.Request) {
	var body QuotaView
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	q, err := a.settings.UpdateQuota(r.Context(), store.QuotaConfig{
		MaxConcurrency: body.MaxConcurrency,
		RateLimitBan:   time.Duration(body.RateLimitBanSeconds) * time.Second,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaView(q))
}

func (a *Admin) getDebug(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, debugView(a.settings.Debug()))
}

func (a *Admin) putDebug(w http.ResponseWriter, r *http.Request) {
	var body DebugView
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	d, err := a.settings.UpdateDebug(r.Context(), store.DebugConfig(body))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, debugView(d))
}
