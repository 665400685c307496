package generation_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/flow"
)

type banCall struct {
	reason string
	id     int64
	d      time.Duration
}

// fakeAccounts is an in-memory token manager.
type fakeAccounts struct {
	accounts  map[int64]*account.Account
	bans      []banCall
	refreshes atomic.Int32
	mu        sync.Mutex
}

func newFakeAccounts(accounts ...account.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[int64]*account.Account)}
	for i := range accounts {
		a := accounts[i]
		f.accounts[a.ID] = &a
	}
	return f
}

func activeAccount(id int64, email string) account.Account {
	return account.Account{
		ID:           id,
		Email:        email,
		SessionToken: "st-" + email,
		AccessToken:  "at-" + email,
		ProjectID:    "proj-" + email,
		BanState:     account.BanNone,
		IsActive:     true,
	}
}

func (f *fakeAccounts) GetAllTokens() []account.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]account.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeAccounts) Touch(id int64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.LastUsedAt = at
	}
}

func (f *fakeAccounts) Resolve(hint string) (account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == hint {
			return *a, nil
		}
	}
	return account.Account{}, apperr.New(apperr.KindNotFound, "no account %q", hint)
}

func (f *fakeAccounts) GetToken(id int64) (account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return account.Account{}, apperr.New(apperr.KindNotFound, "account %d not found", id)
	}
	return *a, nil
}

func (f *fakeAccounts) EnsureAccessToken(_ context.Context, id int64) (account.Account, error) {
	return f.GetToken(id)
}

func (f *fakeAccounts) RefreshAccessToken(_ context.Context, id int64) (account.Account, error) {
	f.refreshes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[id]
	a.AccessToken = "refreshed-" + a.Email
	return *a, nil
}

func (f *fakeAccounts) MarkRateLimited(_ context.Context, id int64, d time.Duration, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans = append(f.bans, banCall{id: id, d: d, reason: reason})
	a := f.accounts[id]
	a.BanState = account.BanRateLimited
	a.BannedUntil = time.Now().Add(time.Hour)
	return nil
}

func (f *fakeAccounts) SetProject(_ context.Context, id int64, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[id].ProjectID = projectID
	return nil
}

func (f *fakeAccounts) banCalls() []banCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]banCall(nil), f.bans...)
}

// fakeUpstream replays scripted generate errors, then succeeds. The other
// calls fail with their configured error when one is set.
type fakeUpstream struct {
	createErr     error
	uploadErr     error
	statusErr     error
	generateErrs  []error
	tokens        []string
	generateCalls atomic.Int32
	uploads       atomic.Int32
	creates       atomic.Int32
	statusCalls   atomic.Int32
	mu            sync.Mutex
}

func (u *fakeUpstream) CreateProject(context.Context, *flow.Credentials, string) (string, error) {
	u.creates.Add(1)
	if u.createErr != nil {
		return "", u.createErr
	}
	return "created-project", nil
}

func (u *fakeUpstream) UploadImage(_ context.Context, _ *flow.Credentials, data []byte, _, _ string) (string, error) {
	u.uploads.Add(1)
	if u.uploadErr != nil {
		return "", u.uploadErr
	}
	return "uploaded-" + string(data), nil
}

func (u *fakeUpstream) Generate(_ context.Context, creds *flow.Credentials, req *flow.Request) (*flow.Result, error) {
	n := int(u.generateCalls.Add(1))
	u.mu.Lock()
	u.tokens = append(u.tokens, creds.Token.AccessToken)
	u.mu.Unlock()

	if n <= len(u.generateErrs) && u.generateErrs[n-1] != nil {
		return nil, u.generateErrs[n-1]
	}
	if req.Model.Kind == flow.KindVideo {
		return &flow.Result{
			Kind:       flow.KindVideo,
			Operations: []flow.Operation{{Name: "op-" + creds.Email, Status: flow.StatusPending}},
		}, nil
	}
	return &flow.Result{
		Kind:  flow.KindImage,
		Media: []flow.Media{{URL: "https://img/" + creds.ProjectID, MediaID: "m"}},
	}, nil
}

func (u *fakeUpstream) CheckVideoStatus(_ context.Context, creds *flow.Credentials, ops []flow.Operation) ([]flow.Operation, error) {
	u.statusCalls.Add(1)
	if u.statusErr != nil {
		return nil, u.statusErr
	}
	out := make([]flow.Operation, len(ops))
	for i, op := range ops {
		out[i] = flow.Operation{Name: op.Name, Status: flow.StatusSuccessful, URL: "https://video/" + creds.Email}
	}
	return out, nil
}

func rateLimitErr() error {
	return apperr.New(apperr.KindRateLimited, "quota exhausted").WithStatus(429).WithRetryAfter(2 * time.Minute)
}

func captchaErr() error {
	return apperr.New(apperr.KindCaptchaRejected, "recaptcha failed").WithStatus(403)
}
