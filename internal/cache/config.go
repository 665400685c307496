package cache

import (
	"errors"
	"fmt"
	"time"
)

// Mode represents the cache operating mode.
type Mode string

const (
	// ModeSingle uses the local Ristretto cache (default).
	ModeSingle Mode = "single"

	// ModeHA uses the distributed Olric cache shared by relay replicas.
	ModeHA Mode = "ha"

	// ModeDisabled stores nothing.
	ModeDisabled Mode = "disabled"
)

// Default configuration values.
const (
	DefaultDMapName        = "flow-relay"
	DefaultProjectTTLMS    = 6 * 60 * 60 * 1000
	DefaultOperationTTLMS  = 24 * 60 * 60 * 1000
	defaultBufferItems     = 64
	defaultOlricStartDelay = 10 * time.Second
)

// Config is the cache section of the relay configuration.
type Config struct {
	Mode           Mode            `yaml:"mode" toml:"mode"`
	Olric          OlricConfig     `yaml:"olric" toml:"olric"`
	Ristretto      RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
	ProjectTTLMS   int             `yaml:"project_ttl_ms" toml:"project_ttl_ms"`
	OperationTTLMS int             `yaml:"operation_ttl_ms" toml:"operation_ttl_ms"`
}

// RistrettoConfig configures the Ristretto local cache.
type RistrettoConfig struct {
	// NumCounters should be about 10x the expected number of items.
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`

	// MaxCost is the byte budget of cached values.
	MaxCost int64 `yaml:"max_cost" toml:"max_cost"`

	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// OlricConfig configures the Olric distributed cache.
type OlricConfig struct {
	DMapName  string   `yaml:"dmap_name" toml:"dmap_name"`
	BindAddr  string   `yaml:"bind_addr" toml:"bind_addr"`
	Addresses []string `yaml:"addresses" toml:"addresses"`
	Peers     []string `yaml:"peers" toml:"peers"`
	Embedded  bool     `yaml:"embedded" toml:"embedded"`
}

// GetMode returns the configured mode, single when unset.
func (c *Config) GetMode() Mode {
	if c.Mode == "" {
		return ModeSingle
	}
	return c.Mode
}

// GetProjectTTL bounds how long a resolved project id is reused.
func (c *Config) GetProjectTTL() time.Duration {
	if c.ProjectTTLMS <= 0 {
		return DefaultProjectTTLMS * time.Millisecond
	}
	return time.Duration(c.ProjectTTLMS) * time.Millisecond
}

// GetOperationTTL bounds how long a video operation can be polled.
func (c *Config) GetOperationTTL() time.Duration {
	if c.OperationTTLMS <= 0 {
		return DefaultOperationTTLMS * time.Millisecond
	}
	return time.Duration(c.OperationTTLMS) * time.Millisecond
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.GetMode() {
	case ModeSingle:
		if c.Ristretto.MaxCost < 0 {
			return errors.New("cache: ristretto.max_cost must not be negative")
		}
		if c.Ristretto.NumCounters < 0 {
			return errors.New("cache: ristretto.num_counters must not be negative")
		}
	case ModeHA:
		if !c.Olric.Embedded && len(c.Olric.Addresses) == 0 {
			return errors.New("cache: olric.addresses required when not embedded")
		}
		if c.Olric.Embedded && c.Olric.BindAddr == "" {
			return errors.New("cache: olric.bind_addr required when embedded")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("cache: unknown mode %q", c.Mode)
	}
	return nil
}

// DefaultRistrettoConfig sizes the local cache for a few thousand keys.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 100_000,
		MaxCost:     16 << 20,
		BufferItems: defaultBufferItems,
	}
}

func (r RistrettoConfig) withDefaults() RistrettoConfig {
	def := DefaultRistrettoConfig()
	if r.NumCounters <= 0 {
		r.NumCounters = def.NumCounters
	}
	if r.MaxCost <= 0 {
		r.MaxCost = def.MaxCost
	}
	if r.BufferItems <= 0 {
		r.BufferItems = def.BufferItems
	}
	return r
}
