package config

import (
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/balancer"
	"github.com/omarluq/flow-relay/internal/browser"
	"github.com/omarluq/flow-relay/internal/flow"
)

var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"text":    true, // Alias for console
	"pretty":  true,
}

// Validate checks the configuration for errors.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateLogging(c, errs)
	validateFlow(c, errs)
	validateBrowser(c, errs)
	validatePool(c, errs)
	validateAccounts(c, errs)
	errs.AddErr("cache", c.Cache.Validate())

	return errs.ToError()
}

func validateServer(c *Config, errs *ValidationError) {
	if c.Server.Listen != "" {
		validateListenAddress(c.Server.Listen, errs)
	}
	if c.Server.TimeoutMS < 0 {
		errs.Add("server.timeout_ms must be >= 0")
	}
	if c.Server.MaxBodyBytes < 0 {
		errs.Add("server.max_body_bytes must be >= 0")
	}
	if lo.Contains(c.Server.APIKeys, "") {
		errs.Add("server.api_keys must not contain empty keys")
	}
	if lo.Contains(c.Server.AdminKeys, "") {
		errs.Add("server.admin_keys must not contain empty keys")
	}
}

// validateListenAddress validates a listen address in host:port format.
func validateListenAddress(addr string, errs *ValidationError) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", addr)
		return
	}
	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " \t\n") {
		errs.Add("server.listen host contains invalid characters")
	}
	if port == "" {
		errs.Add("server.listen port is required")
	}
}

func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, text, pretty)", c.Logging.Format)
	}
	names := lo.Keys(c.Logging.Components)
	slices.Sort(names)
	for _, name := range names {
		if lvl := c.Logging.Components[name]; lvl == "" || !validLogLevels[lvl] {
			errs.Addf("logging.components.%s is invalid (got %q, valid: debug, info, warn, error)", name, lvl)
		}
	}
	if c.Logging.DebugOptions.MaxBodyLogSize < 0 {
		errs.Add("logging.debug_options.max_body_log_size must be >= 0")
	}
}

func validateFlow(c *Config, errs *ValidationError) {
	validateURL("flow.labs_base_url", c.Flow.LabsBaseURL, errs)
	validateURL("flow.api_base_url", c.Flow.APIBaseURL, errs)
	if c.Flow.ProxyURL != "" {
		if _, err := browser.ParseProxyURL(c.Flow.ProxyURL); err != nil {
			errs.Addf("flow.proxy_url is invalid: %v", err)
		}
	}
	if c.Flow.TimeoutMS < 0 {
		errs.Add("flow.timeout_ms must be >= 0")
	}
	if c.Flow.ImageTimeoutMS < 0 {
		errs.Add("flow.image_timeout_ms must be >= 0")
	}
	if c.Flow.VideoTimeoutMS < 0 {
		errs.Add("flow.video_timeout_ms must be >= 0")
	}
	if tier := c.Flow.PaygateTier; tier != "" && !lo.Contains(flow.PaygateTiers, tier) {
		errs.Addf("flow.paygate_tier is invalid (got %q)", tier)
	}
}

func validateBrowser(c *Config, errs *ValidationError) {
	switch c.Browser.GetMode() {
	case browser.ModeRemote:
		if c.Browser.BaseURL == "" {
			errs.Add("browser.base_url is required when mode is remote")
		}
		validateURL("browser.base_url", c.Browser.BaseURL, errs)
	case browser.ModeDisabled:
	default:
		errs.Addf("browser.mode is invalid (got %q, valid: remote, disabled)", c.Browser.Mode)
	}
	if c.Browser.TimeoutMS < 0 {
		errs.Add("browser.timeout_ms must be >= 0")
	}
}

func validatePool(c *Config, errs *ValidationError) {
	if _, err := balancer.NewSelector(c.Pool.Strategy); err != nil {
		errs.Addf("pool.strategy is invalid (got %q, valid: %s, %s)",
			c.Pool.Strategy, balancer.StrategyLeastRecentlyUsed, balancer.StrategyLeastLoaded)
	}
	if c.Pool.MaxConcurrency < 0 {
		errs.Add("pool.max_concurrency must be >= 0")
	}
	if c.Pool.RPMPerAccount < 0 {
		errs.Add("pool.rpm_per_account must be >= 0")
	}
	if c.Pool.RateLimitBanMS < 0 {
		errs.Add("pool.rate_limit_ban_ms must be >= 0")
	}
}

func validateAccounts(c *Config, errs *ValidationError) {
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		st := strings.TrimSpace(a.SessionToken)
		if st == "" {
			errs.Addf("accounts[%d].session_token is required", i)
			continue
		}
		if seen[st] {
			errs.Addf("accounts[%d].session_token is a duplicate", i)
		}
		seen[st] = true
		if a.MaxConcurrency < 0 {
			errs.Addf("accounts[%d].max_concurrency must be >= 0", i)
		}
	}
}

func validateURL(field, raw string, errs *ValidationError) {
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Addf("%s must be an absolute http(s) URL (got %q)", field, raw)
	}
}
