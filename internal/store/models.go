package store

import (
	"time"

	"github.com/omarluq/flow-relay/internal/account"
)

type accountRow struct {
	AccessTokenExpiry time.Time
	BannedUntil       time.Time
	LastUsedAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Email             string `gorm:"uniqueIndex"`
	SessionToken      string `gorm:"not null"`
	AccessToken       string
	PaygateTier       string
	ProjectID         string
	BanReason         string
	BanState          string `gorm:"default:ok"`
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	Credits           int64
	MaxConcurrency    int
	IsActive          bool
}

func (accountRow) TableName() string { return "accounts" }

// settingsRow holds single-row settings tables keyed by name.
type settingsRow struct {
	UpdatedAt       time.Time
	Name            string `gorm:"primaryKey"`
	MaxConcurrency  int
	RateLimitBanMS  int64
	MaxBodyLogSize  int
	DebugEnabled    bool
	LogRequestBody  bool
	LogResponseBody bool
}

func (settingsRow) TableName() string { return "settings" }

const (
	settingsQuota = "quota"
	settingsDebug = "debug"
)

func toRow(a *account.Account) accountRow {
	return accountRow{
		ID:                a.ID,
		Email:             a.Email,
		SessionToken:      a.SessionToken,
		AccessToken:       a.AccessToken,
		AccessTokenExpiry: a.AccessTokenExpiry,
		IsActive:          a.IsActive,
		Credits:           a.Credits,
		PaygateTier:       a.PaygateTier,
		ProjectID:         a.ProjectID,
		BanState:          string(a.BanState),
		BannedUntil:       a.BannedUntil,
		BanReason:         a.BanReason,
		LastUsedAt:        a.LastUsedAt,
		MaxConcurrency:    a.MaxConcurrency,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func (r *accountRow) toAccount() account.Account {
	state := account.BanState(r.BanState)
	if state == "" {
		state = account.BanNone
	}
	return account.Account{
		ID:                r.ID,
		Email:             r.Email,
		SessionToken:      r.SessionToken,
		AccessToken:       r.AccessToken,
		AccessTokenExpiry: r.AccessTokenExpiry,
		IsActive:          r.IsActive,
		Credits:           r.Credits,
		PaygateTier:       r.PaygateTier,
		ProjectID:         r.ProjectID,
		BanState:          state,
		BannedUntil:       r.BannedUntil,
		BanReason:         r.BanReason,
		LastUsedAt:        r.LastUsedAt,
		MaxConcurrency:    r.MaxConcurrency,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}
