// Package settings owns the pool-wide quota and debug settings persisted in
// the store. Changes are saved first and then pushed to subscribers, so a
// restart always comes back with what was last applied.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/store"
)

// Store is the slice of store.Repository this package needs.
type Store interface {
	LoadQuotaConfig(ctx context.Context) (store.QuotaConfig, error)
	SaveQuotaConfig(ctx context.Context, cfg store.QuotaConfig) error
	LoadDebugConfig(ctx context.Context) (store.DebugConfig, error)
	SaveDebugConfig(ctx context.Context, cfg store.DebugConfig) error
}

// Service reads, updates and broadcasts settings.
type Service struct {
	repo    Store
	log     *zerolog.Logger
	onQuota []func(store.QuotaConfig)
	onDebug []func(store.DebugConfig)
	quota   store.QuotaConfig
	debug   store.DebugConfig
	mu      sync.Mutex
}

// New creates a Service. Call Seed before use.
func New(repo Store, log *zerolog.Logger) *Service {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Service{repo: repo, log: log}
}

// OnQuota registers fn to receive every applied quota config.
func (s *Service) OnQuota(fn func(store.QuotaConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQuota = append(s.onQuota, fn)
}

// OnDebug registers fn to receive every applied debug config.
func (s *Service) OnDebug(fn func(store.DebugConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDebug = append(s.onDebug, fn)
}

// Seed loads the persisted settings, saving the given defaults for any row
// that does not exist yet, and applies them to subscribers.
func (s *Service) Seed(ctx context.Context, quota store.QuotaConfig, debug store.DebugConfig) error {
	q, err := s.repo.LoadQuotaConfig(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := validateQuota(quota); err != nil {
			return err
		}
		if err := s.repo.SaveQuotaConfig(ctx, quota); err != nil {
			return fmt.Errorf("settings: seed quota: %w", err)
		}
		q = quota
		s.log.Info().Int("max_concurrency", q.MaxConcurrency).Dur("rate_limit_ban", q.RateLimitBan).Msg("quota config seeded")
	case err != nil:
		return fmt.Errorf("settings: load quota: %w", err)
	}

	d, err := s.repo.LoadDebugConfig(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := s.repo.SaveDebugConfig(ctx, debug); err != nil {
			return fmt.Errorf("settings: seed debug: %w", err)
		}
		d = debug
	case err != nil:
		return fmt.Errorf("settings: load debug: %w", err)
	}

	s.mu.Lock()
	s.quota, s.debug = q, d
	quotaFns, debugFns := s.onQuota, s.onDebug
	s.mu.Unlock()

	for _, fn := range quotaFns {
		fn(q)
	}
	for _, fn := range debugFns {
		fn(d)
	}
	return nil
}

// Quota returns the applied quota config.
func (s *Service) Quota() store.QuotaConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota
}

// Debug returns the applied debug config.
func (s *Service) Debug() store.DebugConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debug
}

// UpdateQuota persists and applies cfg.
func (s *Service) UpdateQuota(ctx context.Context, cfg store.QuotaConfig) (store.QuotaConfig, error) {
	if err := validateQuota(cfg); err != nil {
		return store.QuotaConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.SaveQuotaConfig(ctx, cfg); err != nil {
		return store.QuotaConfig{}, fmt.Errorf("settings: save quota: %w", err)
	}
	s.quota = cfg
	for _, fn := range s.onQuota {
		fn(cfg)
	}

	s.log.Info().Int("max_concurrency", cfg.MaxConcurrency).Dur("rate_limit_ban", cfg.RateLimitBan).Msg("quota config updated")
	return cfg, nil
}

// UpdateDebug persists and applies cfg.
func (s *Service) UpdateDebug(ctx context.Context, cfg store.DebugConfig) (store.DebugConfig, error) {
	if cfg.MaxBodyLogSize < 0 {
		return store.DebugConfig{}, apperr.New(apperr.KindInvalidRequest, "max_body_log_size must be >= 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.SaveDebugConfig(ctx, cfg); err != nil {
		return store.DebugConfig{}, fmt.Errorf("settings: save debug: %w", err)
	}
	s.debug = cfg
	for _, fn := range s.onDebug {
		fn(cfg)
	}

	s.log.Info().Bool("enabled", cfg.Enabled).Msg("debug config updated")
	return cfg, nil
}

func validateQuota(cfg store.QuotaConfig) error {
	if cfg.MaxConcurrency < 1 {
		return apperr.New(apperr.KindInvalidRequest, "max_concurrency must be >= 1")
	}
	if cfg.RateLimitBan < 0 {
		return apperr.New(apperr.KindInvalidRequest, "rate_limit_ban must be >= 0")
	}
	return nil
}
