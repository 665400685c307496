package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// noopCache stores nothing; every read misses.
type noopCache struct {
	closed atomic.Bool
}

func newNoopCache(logger *zerolog.Logger) *noopCache {
	logger.Debug().Str("backend", "noop").Msg("caching is disabled")
	return &noopCache{}
}

func (c *noopCache) Get(context.Context, string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return nil, ErrNotFound
}

func (c *noopCache) Set(context.Context, string, []byte, time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) Delete(context.Context, string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) Close() error {
	c.closed.Store(true)
	return nil
}
