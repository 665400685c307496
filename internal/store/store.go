// Package store persists accounts and runtime settings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/omarluq/flow-relay/internal/account"
)

// Sentinel errors returned by repositories.
var (
	ErrNotFound            = errors.New("store: not found")
	ErrMissingSessionToken = errors.New("store: account has no session token")
	ErrClosed              = errors.New("store: repository is closed")
)

// QuotaConfig holds the pool-wide admission settings.
type QuotaConfig struct {
	// MaxConcurrency is the default per-account in-flight ceiling.
	MaxConcurrency int
	// RateLimitBan is how long an account stays banned after a 429.
	RateLimitBan time.Duration
}

// DebugConfig controls upstream traffic logging.
type DebugConfig struct {
	MaxBodyLogSize  int
	Enabled         bool
	LogRequestBody  bool
	LogResponseBody bool
}

// Repository is the durable credential store. Reads are immediately
// consistent with prior writes.
type Repository interface {
	// LoadAccounts returns every stored account ordered by id.
	LoadAccounts(ctx context.Context) ([]account.Account, error)

	// SaveAccount inserts the account when ID is zero and updates it otherwise.
	// The assigned id and timestamps are written back into a.
	SaveAccount(ctx context.Context, a *account.Account) error

	// DeleteAccount removes an account. Returns ErrNotFound if absent.
	DeleteAccount(ctx context.Context, id int64) error

	// LoadQuotaConfig returns ErrNotFound until a quota config was saved.
	LoadQuotaConfig(ctx context.Context) (QuotaConfig, error)
	SaveQuotaConfig(ctx context.Context, cfg QuotaConfig) error

	// LoadDebugConfig returns ErrNotFound until a debug config was saved.
	LoadDebugConfig(ctx context.Context) (DebugConfig, error)
	SaveDebugConfig(ctx context.Context, cfg DebugConfig) error

	Close() error
}
