package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
)

// ristrettoCache is the in-process backend.
type ristrettoCache struct {
	cache  *ristretto.Cache[string, []byte]
	log    zerolog.Logger
	closed atomic.Bool
	mu     sync.RWMutex
}

var (
	_ Cache         = (*ristrettoCache)(nil)
	_ StatsProvider = (*ristrettoCache)(nil)
)

func newRistrettoCache(cfg RistrettoConfig, logger *zerolog.Logger) (*ristrettoCache, error) {
	log := logger.With().Str("backend", "ristretto").Logger()
	cfg = cfg.withDefaults()

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int64("num_counters", cfg.NumCounters).
		Int64("max_cost", cfg.MaxCost).
		Msg("ristretto cache created")
	return &ristrettoCache{cache: c, log: log}, nil
}

// guard holds the read lock for an operation and reports ErrClosed once
// Close has run.
func (r *ristrettoCache) guard(ctx context.Context) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	if r.closed.Load() {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	return r.mu.RUnlock, nil
}

func (r *ristrettoCache) Get(ctx context.Context, key string) ([]byte, error) {
	unlock, err := r.guard(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	value, found := r.cache.Get(key)
	r.log.Debug().Str("key", key).Bool("hit", found).Msg("cache get")
	if !found {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set waits for the write buffer so a following Get observes the value,
// unless the admission policy dropped it.
func (r *ristrettoCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	unlock, err := r.guard(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	v := make([]byte, len(value))
	copy(v, value)
	cost := int64(len(v) + len(key))
	if ttl > 0 {
		r.cache.SetWithTTL(key, v, cost, ttl)
	} else {
		r.cache.Set(key, v, cost)
	}
	r.cache.Wait()

	r.log.Debug().Str("key", key).Int("size", len(v)).Dur("ttl", ttl).Msg("cache set")
	return nil
}

func (r *ristrettoCache) Delete(ctx context.Context, key string) error {
	unlock, err := r.guard(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	r.cache.Del(key)
	return nil
}

func (r *ristrettoCache) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Swap(true) {
		return nil
	}
	r.cache.Wait()
	r.cache.Close()
	r.log.Debug().Msg("ristretto cache closed")
	return nil
}

func (r *ristrettoCache) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed.Load() {
		return Stats{}
	}
	m := r.cache.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeyCount:  m.KeysAdded() - m.KeysEvicted(),
		BytesUsed: m.CostAdded() - m.CostEvicted(),
		Evictions: m.KeysEvicted(),
	}
}
