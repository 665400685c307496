package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestRistrettoCache(t *testing.T) *ristrettoCache {
	t.Helper()
	c, err := newRistrettoCache(RistrettoConfig{NumCounters: 10_000, MaxCost: 1 << 20}, nopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRistrettoGetSetDelete(t *testing.T) {
	t.Parallel()

	c := newTestRistrettoCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Delete(ctx, "missing"))
}

func TestRistrettoReturnsCopies(t *testing.T) {
	t.Parallel()

	c := newTestRistrettoCache(t)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRistrettoTTL(t *testing.T) {
	t.Parallel()

	c := newTestRistrettoCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 50*time.Millisecond))
	assert.Eventually(t, func() bool {
		_, err := c.Get(ctx, "short")
		return errors.Is(err, ErrNotFound)
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRistrettoClosed(t *testing.T) {
	t.Parallel()

	c := newTestRistrettoCache(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	ctx := context.Background()
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), ErrClosed)
	assert.Equal(t, Stats{}, c.Stats())
}

func TestRistrettoCanceledContext(t *testing.T) {
	t.Parallel()

	c := newTestRistrettoCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoopCache(t *testing.T) {
	t.Parallel()

	c := newNoopCache(nopLogger())
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Delete(ctx, "k"), ErrClosed)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty defaults to single", cfg: Config{}},
		{name: "disabled", cfg: Config{Mode: ModeDisabled}},
		{name: "ha client without addresses", cfg: Config{Mode: ModeHA}, wantErr: true},
		{name: "ha embedded without bind", cfg: Config{Mode: ModeHA, Olric: OlricConfig{Embedded: true}}, wantErr: true},
		{name: "ha client", cfg: Config{Mode: ModeHA, Olric: OlricConfig{Addresses: []string{"127.0.0.1:3320"}}}},
		{name: "unknown", cfg: Config{Mode: "redis"}, wantErr: true},
		{name: "negative cost", cfg: Config{Ristretto: RistrettoConfig{MaxCost: -1}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigTTLDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	assert.Equal(t, 6*time.Hour, cfg.GetProjectTTL())
	assert.Equal(t, 24*time.Hour, cfg.GetOperationTTL())
	assert.Equal(t, ModeSingle, cfg.GetMode())
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), &Config{Mode: ModeDisabled}, nil)
	require.NoError(t, err)
	assert.IsType(t, &noopCache{}, c)

	c, err = New(context.Background(), &Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ristrettoCache{}, c)
	require.NoError(t, c.Close())

	_, err = New(context.Background(), &Config{Mode: "bogus"}, nil)
	assert.Error(t, err)
}

type owner struct {
	Email string `json:"email"`
	ID    int64  `json:"id"`
}

func TestNamespace(t *testing.T) {
	t.Parallel()

	c := newTestRistrettoCache(t)
	ctx := context.Background()
	ops := NewNamespace[owner](c, "op", time.Hour)
	projects := NewNamespace[string](c, "project", time.Hour)

	got, err := ops.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.IsAbsent())

	require.NoError(t, ops.Set(ctx, "a", owner{ID: 3, Email: "x@example.com"}))
	require.NoError(t, projects.Set(ctx, "a", "p-1"))

	got, err = ops.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, owner{ID: 3, Email: "x@example.com"}, got.MustGet())

	p, err := projects.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.MustGet())

	require.NoError(t, ops.Delete(ctx, "a"))
	got, err = ops.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.IsAbsent())
}

func TestNamespaceDecodeFailure(t *testing.T) {
	t.Parallel()

	c := newTestRistrettoCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "op:bad", []byte("not json"), 0))

	_, err := NewNamespace[owner](c, "op", 0).Get(ctx, "bad")
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

var olricPort atomic.Int32

func init() {
	olricPort.Store(13420)
}

func TestOlricEmbedded(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded olric node")
	}

	port := olricPort.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := newOlricCache(ctx, &OlricConfig{
		DMapName: fmt.Sprintf("test-%d", port),
		Embedded: true,
		BindAddr: fmt.Sprintf("127.0.0.1:%d", port),
	}, nopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
