package flow

import (
	"time"

	"github.com/samber/mo"
)

// Default configuration values.
const (
	DefaultLabsBaseURL    = "https://labs.google/fx/api"
	DefaultAPIBaseURL     = "https://aisandbox-pa.googleapis.com/v1"
	DefaultTimeoutMS      = 30000
	DefaultImageTimeoutMS = 120000
	DefaultVideoTimeoutMS = 60000
	DefaultPaygateTier    = "PAYGATE_TIER_ONE"
	DefaultProjectTitle   = "flow-relay"
)

// PaygateTiers are the tiers upstream recognizes.
var PaygateTiers = []string{"PAYGATE_TIER_NOT_PAID", "PAYGATE_TIER_ONE", "PAYGATE_TIER_TWO"}

// Config is the upstream section of the relay configuration.
type Config struct {
	LabsBaseURL    string `yaml:"labs_base_url" toml:"labs_base_url"`
	APIBaseURL     string `yaml:"api_base_url" toml:"api_base_url"`
	PaygateTier    string `yaml:"paygate_tier" toml:"paygate_tier"`
	ProjectTitle   string `yaml:"project_title" toml:"project_title"`
	ProxyURL       string `yaml:"proxy_url" toml:"proxy_url"`
	TimeoutMS      int    `yaml:"timeout_ms" toml:"timeout_ms"`
	ImageTimeoutMS int    `yaml:"image_timeout_ms" toml:"image_timeout_ms"`
	VideoTimeoutMS int    `yaml:"video_timeout_ms" toml:"video_timeout_ms"`
}

func msOr(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

// GetLabsBaseURL returns the labs (session and project) endpoint base.
func (c *Config) GetLabsBaseURL() string {
	return mo.EmptyableToOption(c.LabsBaseURL).OrElse(DefaultLabsBaseURL)
}

// GetAPIBaseURL returns the generation API base.
func (c *Config) GetAPIBaseURL() string {
	return mo.EmptyableToOption(c.APIBaseURL).OrElse(DefaultAPIBaseURL)
}

// GetPaygateTier returns the tier sent when the account has none recorded.
func (c *Config) GetPaygateTier() string {
	return mo.EmptyableToOption(c.PaygateTier).OrElse(DefaultPaygateTier)
}

// GetProjectTitle returns the title used for auto-created projects.
func (c *Config) GetProjectTitle() string {
	return mo.EmptyableToOption(c.ProjectTitle).OrElse(DefaultProjectTitle)
}

// GetTimeout bounds auth, billing and project calls.
func (c *Config) GetTimeout() time.Duration {
	return msOr(c.TimeoutMS, DefaultTimeoutMS)
}

// GetImageTimeout bounds image generation calls.
func (c *Config) GetImageTimeout() time.Duration {
	return msOr(c.ImageTimeoutMS, DefaultImageTimeoutMS)
}

// GetVideoTimeout bounds video submission and status calls.
func (c *Config) GetVideoTimeout() time.Duration {
	return msOr(c.VideoTimeoutMS, DefaultVideoTimeoutMS)
}

// DebugOptions controls upstream body logging.
type DebugOptions struct {
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodyLogSize  int
}

// GetMaxBodyLogSize returns the truncation limit, 1000 bytes by default.
func (d *DebugOptions) GetMaxBodyLogSize() int {
	if d.MaxBodyLogSize <= 0 {
		return 1000
	}
	return d.MaxBodyLogSize
}
