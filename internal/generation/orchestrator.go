// Package generation serves one generation request end to end: it picks an
// account, holds one of its admission slots for the whole request, prepares
// the account's project and inputs, and drives the captcha retry policy.
package generation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/balancer"
	"github.com/omarluq/flow-relay/internal/cache"
	"github.com/omarluq/flow-relay/internal/concurrency"
	"github.com/omarluq/flow-relay/internal/flow"
)

// Default policy values.
const (
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Accounts is the slice of the token manager the orchestrator uses.
type Accounts interface {
	Resolve(hint string) (account.Account, error)
	GetToken(id int64) (account.Account, error)
	EnsureAccessToken(ctx context.Context, id int64) (account.Account, error)
	RefreshAccessToken(ctx context.Context, id int64) (account.Account, error)
	MarkRateLimited(ctx context.Context, id int64, d time.Duration, reason string) error
	SetProject(ctx context.Context, id int64, projectID string) error
}

// Selector picks an eligible account.
type Selector interface {
	Select(ctx context.Context, f balancer.Filter) (account.Account, error)
}

// Slots hands out admission slots.
type Slots interface {
	Acquire(id int64) (*concurrency.Lease, bool)
}

// Upstream is the API-client adapter.
type Upstream interface {
	CreateProject(ctx context.Context, creds *flow.Credentials, title string) (string, error)
	UploadImage(ctx context.Context, creds *flow.Credentials, data []byte, mimeType, aspect string) (string, error)
	Generate(ctx context.Context, creds *flow.Credentials, req *flow.Request) (*flow.Result, error)
	CheckVideoStatus(ctx context.Context, creds *flow.Credentials, ops []flow.Operation) ([]flow.Operation, error)
}

// Config tunes the orchestrator.
type Config struct {
	ProjectTitle string
	MaxAttempts  int
	RetryBackoff time.Duration
	ProjectTTL   time.Duration
	OperationTTL time.Duration
}

// owner records which account created a video operation.
type owner struct {
	Email     string `json:"email"`
	AccountID int64  `json:"account_id"`
}

// Orchestrator is the generation request handler.
type Orchestrator struct {
	accounts   Accounts
	selector   Selector
	slots      Slots
	upstream   Upstream
	projects   *cache.Namespace[string]
	operations *cache.Namespace[owner]
	log        *zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	creating   singleflight.Group
	cfg        Config
}

// New creates an Orchestrator. store backs the project and operation
// lookups; pass a disabled cache to always consult the account record.
func New(
	accounts Accounts,
	selector Selector,
	slots Slots,
	upstream Upstream,
	store cache.Cache,
	cfg Config,
	log *zerolog.Logger,
) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Orchestrator{
		accounts:   accounts,
		selector:   selector,
		slots:      slots,
		upstream:   upstream,
		projects:   cache.NewNamespace[string](store, "project", cfg.ProjectTTL),
		operations: cache.NewNamespace[owner](store, "operation", cfg.OperationTTL),
		log:        log,
		sleep:      sleepCtx,
		cfg:        cfg,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Image is one input image: an already uploaded media id or inline bytes.
type Image struct {
	MediaID  string
	MimeType string
	Data     []byte
}

// Request is a normalized client generation request.
type Request struct {
	Model       string
	Prompt      string
	AspectRatio string
	Account     string
	Images      []Image
	Seed        int
}

// Result is a successful generation.
type Result struct {
	*flow.Result
	Model     string `json:"model"`
	Email     string `json:"account"`
	AccountID int64  `json:"account_id"`
	Attempts  int    `json:"attempts"`
}

func (r *Request) validate() (flow.Model, string, error) {
	model, ok := flow.LookupModel(r.Model)
	if !ok {
		return flow.Model{}, "", apperr.New(apperr.KindInvalidRequest, "unknown model %q", r.Model)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return flow.Model{}, "", apperr.New(apperr.KindInvalidRequest, "prompt is required")
	}
	if err := model.ValidateInputs(len(r.Images)); err != nil {
		return flow.Model{}, "", err
	}
	for i := range r.Images {
		if r.Images[i].MediaID == "" && len(r.Images[i].Data) == 0 {
			return flow.Model{}, "", apperr.New(apperr.KindInvalidRequest, "image %d has neither media_id nor data", i)
		}
	}
	aspect, err := model.ResolveAspect(r.AspectRatio)
	if err != nil {
		return flow.Model{}, "", err
	}
	return model, aspect, nil
}

// Generate serves req on one account. The admission slot taken for that
// account is held across every attempt and released exactly once.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (*Result, error) {
	model, aspect, err := req.validate()
	if err != nil {
		return nil, err
	}

	a, lease, err := o.acquire(ctx, req.Account)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	log := o.log.With().Int64("account_id", a.ID).Str("email", a.Email).Str("model", model.Name).Logger()

	s := &session{o: o, account: a}
	if err := s.prepare(ctx); err != nil {
		return nil, o.abort(ctx, &a, err, 0)
	}

	mediaIDs, err := s.upload(ctx, req.Images, aspect)
	if err != nil {
		return nil, o.abort(ctx, &a, err, 0)
	}

	call := &flow.Request{
		Model:       model,
		Prompt:      req.Prompt,
		AspectRatio: aspect,
		MediaIDs:    mediaIDs,
		Seed:        req.Seed,
	}

	var res *flow.Result
	attempts := 0
	for {
		attempts++
		err = s.withAuth(ctx, func(creds *flow.Credentials) error {
			var gerr error
			res, gerr = o.upstream.Generate(ctx, creds, call)
			return gerr
		})
		if err == nil {
			break
		}

		if !apperr.IsKind(err, apperr.KindCaptchaRejected) {
			return nil, o.abort(ctx, &a, err, attempts)
		}
		log.Warn().Err(err).Int("attempt", attempts).Msg("captcha rejected")
		if attempts >= o.cfg.MaxAttempts {
			return nil, captchaExhausted(err, attempts, a.ID)
		}
		if serr := o.sleep(ctx, o.cfg.RetryBackoff*time.Duration(attempts)); serr != nil {
			return nil, fail(apperr.Wrap(apperr.KindTransient, serr, "generation canceled"), attempts, a.ID)
		}
	}

	if res.Kind == flow.KindVideo {
		o.rememberOperations(ctx, &a, res.Operations)
	}

	log.Info().Int("attempts", attempts).Str("kind", string(res.Kind)).Msg("generation succeeded")
	return &Result{
		Result:    res,
		Model:     model.Name,
		Email:     a.Email,
		AccountID: a.ID,
		Attempts:  attempts,
	}, nil
}

// acquire selects an account and takes one of its slots. An account that
// filled up between selection and acquisition is excluded and selection
// runs again, until the balancer reports the pool exhausted.
func (o *Orchestrator) acquire(ctx context.Context, hint string) (account.Account, *concurrency.Lease, error) {
	filter := balancer.Filter{Exclude: make(map[int64]struct{})}
	if hint != "" {
		pinned, err := o.accounts.Resolve(hint)
		if err != nil {
			return account.Account{}, nil, err
		}
		filter.AccountID = pinned.ID
	}

	for {
		a, err := o.selector.Select(ctx, filter)
		if err != nil {
			return account.Account{}, nil, err
		}
		if lease, ok := o.slots.Acquire(a.ID); ok {
			return a, lease, nil
		}
		o.log.Debug().Int64("account_id", a.ID).Msg("account saturated after selection")
		filter.Exclude[a.ID] = struct{}{}
	}
}

// abort ends a request on a's slot. A rate limit from any upstream call
// benches the account before the error is returned.
func (o *Orchestrator) abort(ctx context.Context, a *account.Account, err error, attempts int) error {
	if apperr.IsKind(err, apperr.KindRateLimited) {
		o.markRateLimited(ctx, a, err)
	}
	return fail(err, attempts, a.ID)
}

func (o *Orchestrator) markRateLimited(ctx context.Context, a *account.Account, cause error) {
	d := apperr.RetryAfterOf(cause).OrEmpty()
	reason := "upstream rate limit"
	if e, ok := apperr.As(cause); ok && e.Message != "" {
		reason = e.Message
	}
	// The ban must land even if the client went away.
	if err := o.accounts.MarkRateLimited(context.WithoutCancel(ctx), a.ID, d, reason); err != nil {
		o.log.Error().Err(err).Int64("account_id", a.ID).Msg("failed to record rate limit")
	}
}

func (o *Orchestrator) rememberOperations(ctx context.Context, a *account.Account, ops []flow.Operation) {
	for i := range ops {
		if err := o.operations.Set(ctx, ops[i].Name, owner{AccountID: a.ID, Email: a.Email}); err != nil {
			o.log.Warn().Err(err).Str("operation", ops[i].Name).Msg("failed to cache operation owner")
		}
	}
}

// fail stamps err with the attempt count and account.
func fail(err error, attempts int, accountID int64) error {
	e, ok := apperr.As(err)
	switch {
	case ok:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e = apperr.Wrap(apperr.KindTransient, err, "generation interrupted")
	default:
		e = apperr.Wrap(apperr.KindInternal, err, "generation failed")
	}
	if e.AccountID == 0 {
		e = e.WithAccount(accountID)
	}
	if attempts > 0 {
		e = e.WithAttempts(attempts)
	}
	return e
}

func captchaExhausted(last error, attempts int, accountID int64) error {
	return apperr.Wrap(apperr.KindCaptchaRejected, last, "captcha rejected on all %d attempts", attempts).
		WithAccount(accountID).
		WithAttempts(attempts)
}

func accountKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
