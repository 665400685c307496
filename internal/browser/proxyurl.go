package browser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var proxyURLPattern = regexp.MustCompile(`^(socks5|http|https)://(?:([^:]+):([^@]+)@)?([^:]+):(\d+)$`)

// ErrInvalidProxyURL is returned for malformed proxy URLs.
var ErrInvalidProxyURL = errors.New("browser: invalid proxy url")

// ProxyConfig is a parsed upstream proxy for browser contexts.
type ProxyConfig struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Port     int    `json:"port"`
}

// Server returns scheme://host:port without credentials.
func (p *ProxyConfig) Server() string {
	return fmt.Sprintf("%s://%s:%d", p.Scheme, p.Host, p.Port)
}

// ParseProxyURL parses scheme://[user:pass@]host:port. Schemes are socks5,
// http and https; socks5 with credentials is rejected because browsers do
// not support it. An empty string yields (nil, nil).
func ParseProxyURL(raw string) (*ProxyConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	m := proxyURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("%w: %q (want scheme://[user:pass@]host:port)", ErrInvalidProxyURL, raw)
	}

	port, err := strconv.Atoi(m[5])
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %q out of range", ErrInvalidProxyURL, m[5])
	}

	p := &ProxyConfig{Scheme: m[1], Username: m[2], Password: m[3], Host: m[4], Port: port}
	if p.Scheme == "socks5" && p.Username != "" {
		return nil, fmt.Errorf("%w: socks5 proxies with credentials are not supported", ErrInvalidProxyURL)
	}
	return p, nil
}

// ValidateProxyURL reports whether raw is empty or a valid proxy URL.
func ValidateProxyURL(raw string) error {
	_, err := ParseProxyURL(raw)
	return err
}
