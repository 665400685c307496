package di

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"
	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/balancer"
	"github.com/omarluq/flow-relay/internal/concurrency"
	"github.com/omarluq/flow-relay/internal/config"
	"github.com/omarluq/flow-relay/internal/flow"
	"github.com/omarluq/flow-relay/internal/generation"
	"github.com/omarluq/flow-relay/internal/settings"
	"github.com/omarluq/flow-relay/internal/store"
	"github.com/omarluq/flow-relay/internal/token"
)

// FlowService wraps the upstream API client.
type FlowService struct {
	Client *flow.Client
}

// NewFlowClient creates the client. Captcha tokens come from the browser
// service; calls are paced and guarded per account.
func NewFlowClient(i do.Injector) (*FlowService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	browserSvc := do.MustInvoke[*BrowserService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	limitSvc := do.MustInvoke[*RateLimitService](i)

	opts := []flow.Option{flow.WithRateLimits(limitSvc.Registry)}
	if trackerSvc.Tracker != nil {
		opts = append(opts, flow.WithCircuits(trackerSvc.Tracker))
	}

	client, err := flow.NewClient(cfgSvc.Get().Flow, browserSvc.Browser, loggerSvc.Component("flow"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow client: %w", err)
	}
	return &FlowService{Client: client}, nil
}

// TokenService wraps the token manager.
type TokenService struct {
	Manager *token.Manager
}

// NewTokens creates the manager and loads stored accounts. Session-token
// sampling is only available when a browser backend is configured.
func NewTokens(i do.Injector) (*TokenService, error) {
	storeSvc := do.MustInvoke[*StoreService](i)
	flowSvc := do.MustInvoke[*FlowService](i)
	browserSvc := do.MustInvoke[*BrowserService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	var sampler token.SessionSampler
	if browserSvc.Enabled {
		sampler = browserSvc.Browser
	}

	m := token.NewManager(storeSvc.Repo, flowSvc.Client, sampler, loggerSvc.Component("tokens"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Load(ctx); err != nil {
		return nil, err
	}
	return &TokenService{Manager: m}, nil
}

// SeedAccounts adds the accounts declared in cfg that are not stored yet.
func (t *TokenService) SeedAccounts(ctx context.Context, cfg *config.Config) (int, error) {
	return t.Manager.Seed(ctx, lo.Map(cfg.Accounts, func(a config.AccountConfig, _ int) token.NewAccount {
		return token.NewAccount{SessionToken: a.SessionToken, MaxConcurrency: a.MaxConcurrency, Inactive: a.Disabled}
	}))
}

// ConcurrencyService wraps the per-account admission controller.
type ConcurrencyService struct {
	Controller *concurrency.Controller
}

// NewConcurrency creates the controller and keeps it in step with the
// account set.
func NewConcurrency(i do.Injector) (*ConcurrencyService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	tokenSvc := do.MustInvoke[*TokenService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	c := concurrency.NewController(cfgSvc.Get().Pool.GetMaxConcurrency(), loggerSvc.Component("concurrency"))
	c.Initialize(tokenSvc.Manager.GetAllTokens())
	tokenSvc.Manager.OnChange(c.Initialize)

	return &ConcurrencyService{Controller: c}, nil
}

// BalancerService wraps account selection.
type BalancerService struct {
	Balancer *balancer.Balancer
}

// NewBalancer creates the balancer with the configured strategy. Strategy
// changes need a restart. Accounts with an open circuit are skipped when
// health tracking is on.
func NewBalancer(i do.Injector) (*BalancerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	tokenSvc := do.MustInvoke[*TokenService](i)
	concSvc := do.MustInvoke[*ConcurrencyService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	selector, err := balancer.NewSelector(cfgSvc.Get().Pool.GetStrategy())
	if err != nil {
		return nil, err
	}

	var opts []balancer.Option
	if trackerSvc.Tracker != nil {
		opts = append(opts, balancer.WithCircuits(trackerSvc.Tracker))
	}
	return &BalancerService{
		Balancer: balancer.New(tokenSvc.Manager, concSvc.Controller, selector, loggerSvc.Component("balancer"), opts...),
	}, nil
}

// SettingsService wraps the persisted quota and debug settings.
type SettingsService struct {
	Settings *settings.Service
}

// NewSettings seeds persisted settings from configuration, fans changes
// out to the controller, token manager and flow client, and writes config
// edits through on reload.
func NewSettings(i do.Injector) (*SettingsService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	storeSvc := do.MustInvoke[*StoreService](i)
	concSvc := do.MustInvoke[*ConcurrencyService](i)
	tokenSvc := do.MustInvoke[*TokenService](i)
	flowSvc := do.MustInvoke[*FlowService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	s := settings.New(storeSvc.Repo, loggerSvc.Component("settings"))
	s.OnQuota(func(q store.QuotaConfig) {
		concSvc.Controller.SetDefaultCeiling(q.MaxConcurrency)
		tokenSvc.Manager.SetBanDuration(q.RateLimitBan)
	})
	s.OnDebug(func(d store.DebugConfig) {
		flowSvc.Client.SetDebug(FlowDebug(d))
	})

	cfg := cfgSvc.Get()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Seed(ctx, QuotaFromConfig(cfg), DebugFromConfig(cfg)); err != nil {
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	cfgSvc.OnReload(func(newCfg *config.Config) error {
		old := cfgSvc.Get()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if q := QuotaFromConfig(newCfg); q != QuotaFromConfig(old) {
			if _, err := s.UpdateQuota(ctx, q); err != nil {
				return err
			}
		}
		if d := DebugFromConfig(newCfg); d != DebugFromConfig(old) {
			if _, err := s.UpdateDebug(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})

	return &SettingsService{Settings: s}, nil
}

// QuotaFromConfig extracts the quota settings from cfg.
func QuotaFromConfig(cfg *config.Config) store.QuotaConfig {
	return store.QuotaConfig{
		MaxConcurrency: cfg.Pool.GetMaxConcurrency(),
		RateLimitBan:   cfg.Pool.GetRateLimitBan(),
	}
}

// DebugFromConfig extracts the debug settings from cfg.
func DebugFromConfig(cfg *config.Config) store.DebugConfig {
	d := cfg.Logging.DebugOptions
	return store.DebugConfig{
		Enabled:         d.IsEnabled(),
		LogRequestBody:  d.LogRequestBody,
		LogResponseBody: d.LogResponseBody,
		MaxBodyLogSize:  d.MaxBodyLogSize,
	}
}

// FlowDebug converts persisted debug settings to client options. Nothing
// is logged while disabled.
func FlowDebug(d store.DebugConfig) flow.DebugOptions {
	if !d.Enabled {
		return flow.DebugOptions{}
	}
	return flow.DebugOptions{
		LogRequestBody:  d.LogRequestBody,
		LogResponseBody: d.LogResponseBody,
		MaxBodyLogSize:  d.MaxBodyLogSize,
	}
}

// GenerationService wraps the request orchestrator.
type GenerationService struct {
	Orchestrator *generation.Orchestrator
}

// NewGeneration creates the orchestrator.
func NewGeneration(i do.Injector) (*GenerationService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	tokenSvc := do.MustInvoke[*TokenService](i)
	balSvc := do.MustInvoke[*BalancerService](i)
	concSvc := do.MustInvoke[*ConcurrencyService](i)
	flowSvc := do.MustInvoke[*FlowService](i)
	cacheSvc := do.MustInvoke[*CacheService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Get()
	o := generation.New(
		tokenSvc.Manager,
		balSvc.Balancer,
		concSvc.Controller,
		flowSvc.Client,
		cacheSvc.Cache,
		generation.Config{
			ProjectTitle: cfg.Flow.GetProjectTitle(),
			ProjectTTL:   cfg.Cache.GetProjectTTL(),
			OperationTTL: cfg.Cache.GetOperationTTL(),
		},
		loggerSvc.Component("generation"),
	)
	return &GenerationService{Orchestrator: o}, nil
}

// Shutdown persists pending last-used stamps.
func (t *TokenService) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return t.Manager.FlushUsage(ctx)
}
