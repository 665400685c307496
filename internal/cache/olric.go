package cache

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olric-data/olric"
	olricconfig "github.com/olric-data/olric/config"
	"github.com/rs/zerolog"
)

// parseBindAddr splits host:port; a bare host yields port 0.
func parseBindAddr(addr string) (host string, port int) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, port
}

// olricCache is the distributed backend. In embedded mode it runs a local
// node (db is set); in client mode it talks to an existing cluster.
type olricCache struct {
	db     *olric.Olric
	client olric.Client
	dmap   olric.DMap
	log    zerolog.Logger
	name   string
	mu     sync.RWMutex
	closed atomic.Bool
}

var (
	_ Cache  = (*olricCache)(nil)
	_ Pinger = (*olricCache)(nil)
)

func newOlricCache(ctx context.Context, cfg *OlricConfig, logger *zerolog.Logger) (*olricCache, error) {
	lg := logger.With().Str("backend", "olric").Logger()

	name := cfg.DMapName
	if name == "" {
		name = DefaultDMapName
	}
	if cfg.Embedded {
		return newEmbeddedOlricCache(ctx, cfg, name, &lg)
	}
	return newClientOlricCache(ctx, cfg, name, &lg)
}

func newEmbeddedOlricCache(ctx context.Context, cfg *OlricConfig, name string, lg *zerolog.Logger) (*olricCache, error) {
	c := olricconfig.New("local")
	host, port := parseBindAddr(cfg.BindAddr)
	c.BindAddr = host
	if port > 0 {
		c.BindPort = port
	}
	if len(cfg.Peers) > 0 {
		c.Peers = cfg.Peers
	}
	c.LogOutput = io.Discard
	c.Logger = log.New(io.Discard, "", 0)

	ready := make(chan struct{})
	c.Started = func() { close(ready) }

	db, err := olric.New(c)
	if err != nil {
		return nil, err
	}

	startErr := make(chan error, 1)
	go func() {
		if err := db.Start(); err != nil {
			startErr <- err
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, defaultOlricStartDelay)
	defer cancel()
	select {
	case <-ready:
	case err := <-startErr:
		return nil, err
	case <-startCtx.Done():
		_ = db.Shutdown(context.Background())
		return nil, errors.New("cache: olric node did not start in time")
	}

	client := db.NewEmbeddedClient()
	dm, err := client.NewDMap(name)
	if err != nil {
		if serr := db.Shutdown(context.Background()); serr != nil {
			lg.Error().Err(serr).Msg("olric: shutdown after dmap error failed")
		}
		return nil, err
	}

	lg.Info().
		Str("bind_addr", host).
		Int("bind_port", port).
		Str("dmap", name).
		Int("peers", len(cfg.Peers)).
		Msg("olric embedded cache created")
	return &olricCache{db: db, client: client, dmap: dm, name: name, log: *lg}, nil
}

func newClientOlricCache(ctx context.Context, cfg *OlricConfig, name string, lg *zerolog.Logger) (*olricCache, error) {
	client, err := olric.NewClusterClient(cfg.Addresses)
	if err != nil {
		return nil, err
	}
	dm, err := client.NewDMap(name)
	if err != nil {
		if cerr := client.Close(ctx); cerr != nil {
			lg.Error().Err(cerr).Msg("olric: close after dmap error failed")
		}
		return nil, err
	}

	lg.Info().Strs("addresses", cfg.Addresses).Str("dmap", name).Msg("olric cluster cache created")
	return &olricCache{client: client, dmap: dm, name: name, log: *lg}, nil
}

func (o *olricCache) guard(ctx context.Context) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.RLock()
	if o.closed.Load() {
		o.mu.RUnlock()
		return nil, ErrClosed
	}
	return o.mu.RUnlock, nil
}

func (o *olricCache) Get(ctx context.Context, key string) ([]byte, error) {
	unlock, err := o.guard(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	resp, err := o.dmap.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		o.log.Debug().Str("key", key).Bool("hit", false).Msg("cache get")
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	value, err := resp.Byte()
	if err != nil {
		return nil, err
	}
	o.log.Debug().Str("key", key).Bool("hit", true).Msg("cache get")
	return value, nil
}

func (o *olricCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	unlock, err := o.guard(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	var opts []olric.PutOption
	if ttl > 0 {
		opts = append(opts, olric.EX(ttl))
	}
	if err := o.dmap.Put(ctx, key, value, opts...); err != nil {
		return err
	}
	o.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("cache set")
	return nil
}

func (o *olricCache) Delete(ctx context.Context, key string) error {
	unlock, err := o.guard(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := o.dmap.Delete(ctx, key); err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Ping probes the cluster with a read of a key that never exists.
func (o *olricCache) Ping(ctx context.Context) error {
	unlock, err := o.guard(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = o.dmap.Get(ctx, "__ping__")
	if err == nil || errors.Is(err, olric.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (o *olricCache) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed.Swap(true) {
		return nil
	}

	ctx := context.Background()
	if err := o.dmap.Close(ctx); err != nil {
		o.log.Debug().Err(err).Msg("olric: dmap close error during shutdown")
	}
	if o.db != nil {
		return o.db.Shutdown(ctx)
	}
	return o.client.Close(ctx)
}
