// Package config provides configuration loading, validation and hot-reload
// for flow-relay.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/omarluq/flow-relay/internal/balancer"
	"github.com/omarluq/flow-relay/internal/browser"
	"github.com/omarluq/flow-relay/internal/cache"
	"github.com/omarluq/flow-relay/internal/flow"
	"github.com/omarluq/flow-relay/internal/health"
	"github.com/omarluq/flow-relay/internal/scheduler"
)

// RuntimeConfig gives access to the current configuration. Components that
// must observe hot-reloads hold this instead of a *Config.
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Defaults.
const (
	DefaultListen         = "127.0.0.1:8000"
	DefaultTimeoutMS      = 10 * 60 * 1000
	DefaultMaxBodyBytes   = 32 << 20
	DefaultMaxConcurrency = 3
	DefaultRateLimitBanMS = 60 * 60 * 1000
	DefaultStorePath      = "flow-relay.db"
	defaultMaxBodyLogSize = 1000
)

// Config represents the complete flow-relay configuration.
type Config struct {
	Accounts  []AccountConfig  `yaml:"accounts" toml:"accounts"`
	Flow      flow.Config      `yaml:"flow" toml:"flow"`
	Browser   browser.Config   `yaml:"browser" toml:"browser"`
	Server    ServerConfig     `yaml:"server" toml:"server"`
	Logging   LoggingConfig    `yaml:"logging" toml:"logging"`
	Cache     cache.Config     `yaml:"cache" toml:"cache"`
	Store     StoreConfig      `yaml:"store" toml:"store"`
	Pool      PoolConfig       `yaml:"pool" toml:"pool"`
	Scheduler scheduler.Config `yaml:"scheduler" toml:"scheduler"`
	Health    health.Config    `yaml:"health" toml:"health"`
}

// ServerConfig defines the HTTP surface.
type ServerConfig struct {
	Listen string `yaml:"listen" toml:"listen"`

	// APIKeys authorize the generation endpoints. Empty disables auth.
	APIKeys []string `yaml:"api_keys" toml:"api_keys"`

	// AdminKeys authorize /admin. Empty disables the admin surface.
	AdminKeys []string `yaml:"admin_keys" toml:"admin_keys"`

	CORS         CORSConfig `yaml:"cors" toml:"cors"`
	TimeoutMS    int        `yaml:"timeout_ms" toml:"timeout_ms"`
	MaxBodyBytes int64      `yaml:"max_body_bytes" toml:"max_body_bytes"`
	EnableHTTP2  bool       `yaml:"enable_http2" toml:"enable_http2"`
}

// GetListen returns the listen address with default fallback.
func (s *ServerConfig) GetListen() string {
	return mo.EmptyableToOption(s.Listen).OrElse(DefaultListen)
}

// GetTimeoutOption returns the request timeout as an Option.
// Returns None if TimeoutMS is zero (use default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetTimeout returns the request timeout, ten minutes by default.
func (s *ServerConfig) GetTimeout() time.Duration {
	return s.GetTimeoutOption().OrElse(DefaultTimeoutMS * time.Millisecond)
}

// GetMaxBodyBytes returns the request body limit.
func (s *ServerConfig) GetMaxBodyBytes() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

// IsAuthEnabled reports whether generation endpoints require a key.
func (s *ServerConfig) IsAuthEnabled() bool {
	return len(lo.Compact(s.APIKeys)) > 0
}

// IsAdminEnabled reports whether /admin is mounted.
func (s *ServerConfig) IsAdminEnabled() bool {
	return len(lo.Compact(s.AdminKeys)) > 0
}

// CORSConfig controls cross-origin access for browser clients.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" toml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials" toml:"allow_credentials"`
}

// IsEnabled reports whether any origin is allowed.
func (c *CORSConfig) IsEnabled() bool {
	return len(c.AllowedOrigins) > 0
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level        string       `yaml:"level" toml:"level"`                 // debug, info, warn, error
	Format       string       `yaml:"format" toml:"format"`               // json, console
	Output       string       `yaml:"output" toml:"output"`               // stdout, stderr, or file path
	DebugOptions DebugOptions `yaml:"debug_options" toml:"debug_options"` // upstream traffic logging

	// Components overrides the level per component, e.g. {flow: debug}.
	Components map[string]string `yaml:"components" toml:"components"`

	Pretty bool `yaml:"pretty" toml:"pretty"`
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LevelFor returns the level for a named component, falling back to the
// global level when no override is set.
func (l *LoggingConfig) LevelFor(component string) zerolog.Level {
	if lvl, ok := l.Components[component]; ok && lvl != "" {
		return (&LoggingConfig{Level: lvl}).ParseLevel()
	}
	return l.ParseLevel()
}

// EnableAllDebugOptions turns on all debug logging features.
// Used by the --debug CLI flag.
func (l *LoggingConfig) EnableAllDebugOptions() {
	l.Level = LevelDebug
	l.DebugOptions = DebugOptions{
		LogRequestBody:  true,
		LogResponseBody: true,
		MaxBodyLogSize:  defaultMaxBodyLogSize,
	}
}

// DebugOptions controls logging of upstream request and response bodies.
type DebugOptions struct {
	LogRequestBody  bool `yaml:"log_request_body" toml:"log_request_body"`
	LogResponseBody bool `yaml:"log_response_body" toml:"log_response_body"`

	// MaxBodyLogSize truncates logged bodies. Default: 1000 bytes.
	MaxBodyLogSize int `yaml:"max_body_log_size" toml:"max_body_log_size"`
}

// IsEnabled returns true if any debug option is enabled.
func (d *DebugOptions) IsEnabled() bool {
	return d.LogRequestBody || d.LogResponseBody
}

// PoolConfig controls account selection and admission.
type PoolConfig struct {
	// Strategy is least_recently_used (default) or least_loaded.
	Strategy string `yaml:"strategy" toml:"strategy"`

	// MaxConcurrency is the in-flight ceiling for accounts without their own.
	MaxConcurrency int `yaml:"max_concurrency" toml:"max_concurrency"`

	// RPMPerAccount paces upstream calls per account. Zero is unlimited.
	RPMPerAccount int `yaml:"rpm_per_account" toml:"rpm_per_account"`

	// RateLimitBanMS is how long a rate-limited account stays out of rotation
	// when upstream sends no Retry-After.
	RateLimitBanMS int `yaml:"rate_limit_ban_ms" toml:"rate_limit_ban_ms"`
}

// GetStrategy returns the selection strategy with default fallback.
func (p *PoolConfig) GetStrategy() string {
	return mo.EmptyableToOption(p.Strategy).OrElse(balancer.StrategyLeastRecentlyUsed)
}

// GetMaxConcurrency returns the default per-account ceiling.
func (p *PoolConfig) GetMaxConcurrency() int {
	if p.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return p.MaxConcurrency
}

// GetRateLimitBan returns the default ban duration.
func (p *PoolConfig) GetRateLimitBan() time.Duration {
	if p.RateLimitBanMS <= 0 {
		return DefaultRateLimitBanMS * time.Millisecond
	}
	return time.Duration(p.RateLimitBanMS) * time.Millisecond
}

// StoreConfig locates the credential database.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// GetPath returns the sqlite path with default fallback.
func (s *StoreConfig) GetPath() string {
	return mo.EmptyableToOption(s.Path).OrElse(DefaultStorePath)
}

// AccountConfig seeds an account at startup. Accounts already stored are
// matched by session token and left alone.
type AccountConfig struct {
	SessionToken   string `yaml:"session_token" toml:"session_token"` // supports ${ENV_VAR}
	MaxConcurrency int    `yaml:"max_concurrency" toml:"max_concurrency"`
	Disabled       bool   `yaml:"disabled" toml:"disabled"`
}

// Default returns the configuration written by `config init`.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       DefaultListen,
			APIKeys:      []string{"${FLOW_RELAY_API_KEY}"},
			TimeoutMS:    DefaultTimeoutMS,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Logging: LoggingConfig{Level: LevelInfo, Format: "console", Pretty: true},
		Browser: browser.Config{Mode: browser.ModeDisabled},
		Pool: PoolConfig{
			Strategy:       balancer.StrategyLeastRecentlyUsed,
			MaxConcurrency: DefaultMaxConcurrency,
			RateLimitBanMS: DefaultRateLimitBanMS,
		},
		Store: StoreConfig{Path: DefaultStorePath},
		Cache: cache.Config{Mode: cache.ModeSingle},
	}
}
