package browser

import "time"

// Modes accepted in Config.Mode.
const (
	ModeRemote   = "remote"
	ModeDisabled = "disabled"
)

// Default configuration values.
const (
	DefaultTimeoutMS  = 60000
	DefaultWebsiteKey = "6LdsFiUsAAAAAIjVDZcuLhaHiDn5nnHVXVRQGeMV"
	DefaultAction     = "FLOW_GENERATION"
	DefaultSiteURL    = "https://labs.google/fx/tools/flow/project/"
)

// Config is the browser section of the relay configuration.
type Config struct {
	Mode       string `yaml:"mode" toml:"mode"`
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	APIKey     string `yaml:"api_key" toml:"api_key"`
	WebsiteKey string `yaml:"website_key" toml:"website_key"`
	Action     string `yaml:"action" toml:"action"`
	SiteURL    string `yaml:"site_url" toml:"site_url"`
	ProxyURL   string `yaml:"proxy_url" toml:"proxy_url"`
	TimeoutMS  int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

// GetMode returns the mode, remote when a base URL is set and disabled otherwise.
func (c *Config) GetMode() string {
	if c.Mode != "" {
		return c.Mode
	}
	if c.BaseURL != "" {
		return ModeRemote
	}
	return ModeDisabled
}

// GetTimeout returns the per-call timeout.
func (c *Config) GetTimeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return DefaultTimeoutMS * time.Millisecond
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// GetWebsiteKey returns the reCAPTCHA site key.
func (c *Config) GetWebsiteKey() string {
	if c.WebsiteKey == "" {
		return DefaultWebsiteKey
	}
	return c.WebsiteKey
}

// GetAction returns the reCAPTCHA action name.
func (c *Config) GetAction() string {
	if c.Action == "" {
		return DefaultAction
	}
	return c.Action
}

// ProjectURL returns the page the token is minted on.
func (c *Config) ProjectURL(projectID string) string {
	base := c.SiteURL
	if base == "" {
		base = DefaultSiteURL
	}
	return base + projectID
}
