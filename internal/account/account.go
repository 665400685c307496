// Package account defines the pooled account record and its derived state.
package account

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// BanState is the rate-limit state of an account.
type BanState string

// Ban states.
const (
	BanNone        BanState = "ok"
	BanRateLimited BanState = "rate_limited"
)

// Status is the externally visible lifecycle state of an account.
type Status string

// Account lifecycle states.
const (
	StatusActive      Status = "active"
	StatusRateLimited Status = "rate_limited"
	StatusInactive    Status = "inactive"
)

// accessTokenSkew is how early an access token is treated as expired.
const accessTokenSkew = 5 * time.Minute

// Account is one pooled upstream credential set.
//
// Values are snapshots. The token manager is the only writer; everyone else
// works on copies.
type Account struct {
	AccessTokenExpiry time.Time
	BannedUntil       time.Time
	LastUsedAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Email             string
	SessionToken      string
	AccessToken       string
	PaygateTier       string
	ProjectID         string
	BanReason         string
	BanState          BanState
	ID                int64
	Credits           int64
	MaxConcurrency    int
	IsActive          bool
}

// NormalizeEmail lowercases and trims an email so lookups are stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Banned reports whether the account carries a rate-limit ban.
func (a *Account) Banned() bool {
	return a.BanState == BanRateLimited
}

// BanExpired reports whether a ban is present and its deadline has passed.
func (a *Account) BanExpired(now time.Time) bool {
	return a.Banned() && !a.BannedUntil.After(now)
}

// Status derives the lifecycle state. Deactivation wins over a ban.
func (a *Account) Status() Status {
	switch {
	case !a.IsActive:
		return StatusInactive
	case a.Banned():
		return StatusRateLimited
	default:
		return StatusActive
	}
}

// Selectable reports whether the account may be handed to a request.
// An expired ban still excludes the account until the unban sweep clears it.
func (a *Account) Selectable() bool {
	return a.IsActive && !a.Banned() && a.SessionToken != ""
}

// AccessTokenValid reports whether the access token can be used at now.
func (a *Account) AccessTokenValid(now time.Time) bool {
	if a.AccessToken == "" {
		return false
	}
	if a.AccessTokenExpiry.IsZero() {
		return true
	}
	return now.Add(accessTokenSkew).Before(a.AccessTokenExpiry)
}

// BearerToken returns the access token in oauth2 form.
func (a *Account) BearerToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: a.AccessToken,
		TokenType:   "Bearer",
		Expiry:      a.AccessTokenExpiry,
	}
}

// Label is a log-friendly identifier.
func (a *Account) Label() string {
	if a.Email != "" {
		return a.Email
	}
	return LegacyID(a.SessionToken, a.AccessToken)
}

// Session is the result of exchanging a session token for an access token.
type Session struct {
	Expiry      time.Time
	AccessToken string
	Email       string
	Name        string
}

// Credits is the upstream usage balance of an account.
type Credits struct {
	PaygateTier string
	Credits     int64
}
