package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// New creates the backend selected by cfg.Mode.
//
// ctx bounds the startup of a distributed backend; local backends ignore it.
func New(ctx context.Context, cfg *Config, logger *zerolog.Logger) (Cache, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	log := logger.With().Str("component", "cache").Logger()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		log.Debug().Err(err).Str("mode", string(cfg.Mode)).Msg("cache factory: validation failed")
		return nil, err
	}

	var (
		c   Cache
		err error
	)
	switch cfg.GetMode() {
	case ModeSingle:
		c, err = newRistrettoCache(cfg.Ristretto, &log)
	case ModeHA:
		c, err = newOlricCache(ctx, &cfg.Olric, &log)
	case ModeDisabled:
		c = newNoopCache(&log)
	default:
		return nil, fmt.Errorf("cache: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		log.Error().Err(err).Str("mode", string(cfg.GetMode())).Msg("cache factory: backend initialization failed")
		return nil, err
	}

	log.Info().
		Str("mode", string(cfg.GetMode())).
		Dur("init_time", time.Since(start)).
		Msg("cache backend initialized")
	return c, nil
}
