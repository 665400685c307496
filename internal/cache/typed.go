package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
)

// Namespace is a typed view over a Cache. Keys are prefixed and values are
// JSON encoded, so several namespaces can share one backend.
type Namespace[T any] struct {
	cache  Cache
	prefix string
	ttl    time.Duration
}

// NewNamespace returns a typed view storing entries under prefix for ttl.
func NewNamespace[T any](c Cache, prefix string, ttl time.Duration) *Namespace[T] {
	return &Namespace[T]{cache: c, prefix: prefix + ":", ttl: ttl}
}

// Get returns None on a miss. A value that fails to decode is an error
// wrapping ErrSerializationFailed.
func (n *Namespace[T]) Get(ctx context.Context, key string) (mo.Option[T], error) {
	raw, err := n.cache.Get(ctx, n.prefix+key)
	if errors.Is(err, ErrNotFound) {
		return mo.None[T](), nil
	}
	if err != nil {
		return mo.None[T](), err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return mo.None[T](), fmt.Errorf("%w: %s: %w", ErrSerializationFailed, n.prefix+key, err)
	}
	return mo.Some(v), nil
}

// Set stores v under key.
func (n *Namespace[T]) Set(ctx context.Context, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, n.prefix+key, err)
	}
	return n.cache.Set(ctx, n.prefix+key, raw, n.ttl)
}

// Delete removes key.
func (n *Namespace[T]) Delete(ctx context.Context, key string) error {
	return n.cache.Delete(ctx, n.prefix+key)
}
