package scheduler

import "time"

// Default configuration values.
const (
	DefaultUnbanIntervalMS       = 60 * 60 * 1000
	DefaultRefreshIntervalMS     = 60 * 60 * 1000
	DefaultRefreshInitialDelayMS = 60 * 1000
	DefaultFlushIntervalMS       = 60 * 1000
	DefaultJitterMS              = 2000
	DefaultTaskTimeoutMS         = 10 * 60 * 1000
)

// Config is the scheduler section of the relay configuration.
type Config struct {
	Enabled               *bool `yaml:"enabled" toml:"enabled"`
	UnbanIntervalMS       int   `yaml:"unban_interval_ms" toml:"unban_interval_ms"`
	RefreshIntervalMS     int   `yaml:"refresh_interval_ms" toml:"refresh_interval_ms"`
	RefreshInitialDelayMS int   `yaml:"refresh_initial_delay_ms" toml:"refresh_initial_delay_ms"`
	FlushIntervalMS       int   `yaml:"flush_interval_ms" toml:"flush_interval_ms"`
	JitterMS              int   `yaml:"jitter_ms" toml:"jitter_ms"`
	TaskTimeoutMS         int   `yaml:"task_timeout_ms" toml:"task_timeout_ms"`
}

func ms(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

// IsEnabled reports whether background tasks run. Default true.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// UnbanSpec schedules the expired-ban sweep. It runs once at start.
func (c *Config) UnbanSpec() Spec {
	return Spec{
		Interval: ms(c.UnbanIntervalMS, DefaultUnbanIntervalMS),
		Jitter:   ms(c.JitterMS, DefaultJitterMS),
		Timeout:  ms(c.TaskTimeoutMS, DefaultTaskTimeoutMS),
	}
}

// RefreshSpec schedules the credential and credit refresh.
func (c *Config) RefreshSpec() Spec {
	return Spec{
		Interval:     ms(c.RefreshIntervalMS, DefaultRefreshIntervalMS),
		InitialDelay: ms(c.RefreshInitialDelayMS, DefaultRefreshInitialDelayMS),
		Jitter:       ms(c.JitterMS, DefaultJitterMS),
		Timeout:      ms(c.TaskTimeoutMS, DefaultTaskTimeoutMS),
	}
}

// FlushSpec schedules persisting last-used stamps.
func (c *Config) FlushSpec() Spec {
	interval := ms(c.FlushIntervalMS, DefaultFlushIntervalMS)
	return Spec{
		Interval:     interval,
		InitialDelay: interval,
		Timeout:      ms(c.TaskTimeoutMS, DefaultTaskTimeoutMS),
	}
}
