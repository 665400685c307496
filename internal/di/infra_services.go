package di

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"

	"github.com/omarluq/flow-relay/internal/browser"
	"github.com/omarluq/flow-relay/internal/cache"
	"github.com/omarluq/flow-relay/internal/config"
	"github.com/omarluq/flow-relay/internal/health"
	"github.com/omarluq/flow-relay/internal/ratelimit"
	"github.com/omarluq/flow-relay/internal/store"
)

// StoreService wraps the sqlite-backed repository.
type StoreService struct {
	Repo *store.GormRepository
}

// NewStore opens the repository at the configured path.
func NewStore(i do.Injector) (*StoreService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	repo, err := store.Open(cfgSvc.Get().Store.GetPath(), loggerSvc.Component("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &StoreService{Repo: repo}, nil
}

// Shutdown implements do.Shutdowner.
func (s *StoreService) Shutdown() error {
	return s.Repo.Close()
}

// CacheService wraps the project and operation cache.
type CacheService struct {
	Cache cache.Cache
}

// NewCache creates the cache based on configuration.
func NewCache(i do.Injector) (*CacheService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := cfgSvc.Get().Cache
	c, err := cache.New(ctx, &cfg, loggerSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &CacheService{Cache: c}, nil
}

// Shutdown implements do.Shutdowner for graceful cache cleanup.
func (c *CacheService) Shutdown() error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}

// BrowserService wraps the injected browser automation service.
type BrowserService struct {
	Browser browser.Service
	Enabled bool
}

// NewBrowser creates the browser service. Mode changes need a restart.
func NewBrowser(i do.Injector) (*BrowserService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Get().Browser
	svc, err := browser.New(cfg, loggerSvc.Component("browser"))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser service: %w", err)
	}
	return &BrowserService{Browser: svc, Enabled: cfg.GetMode() != browser.ModeDisabled}, nil
}

// Shutdown implements do.Shutdowner.
func (b *BrowserService) Shutdown() error {
	return b.Browser.Close()
}

// HealthTrackerService wraps the per-account circuit breakers. Tracker is
// nil when breakers are disabled.
type HealthTrackerService struct {
	Tracker *health.Tracker
}

// NewHealthTracker creates the tracker from configuration.
func NewHealthTracker(i do.Injector) (*HealthTrackerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Get().Health
	if !cfg.IsEnabled() {
		return &HealthTrackerService{}, nil
	}
	return &HealthTrackerService{Tracker: health.NewTracker(cfg.CircuitBreaker, loggerSvc.Component("health"))}, nil
}

// RateLimitService wraps the per-account request pacing.
type RateLimitService struct {
	Registry *ratelimit.Registry
}

// NewRateLimits creates the registry and follows rpm changes on reload.
func NewRateLimits(i do.Injector) (*RateLimitService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	svc := &RateLimitService{Registry: ratelimit.NewRegistry(cfgSvc.Get().Pool.RPMPerAccount)}
	cfgSvc.OnReload(func(newCfg *config.Config) error {
		if newCfg.Pool.RPMPerAccount != cfgSvc.Get().Pool.RPMPerAccount {
			svc.Registry.SetRPM(newCfg.Pool.RPMPerAccount)
		}
		return nil
	})
	return svc, nil
}
