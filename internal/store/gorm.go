package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/omarluq/flow-relay/internal/account"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// GormRepository is a Repository backed by sqlite through gorm.
type GormRepository struct {
	db     *gorm.DB
	log    *zerolog.Logger
	closed atomic.Bool
}

// Open opens (creating if needed) the sqlite database at path and migrates it.
func Open(path string, log *zerolog.Logger) (*GormRepository, error) {
	dsn := path
	if path == "" || path == MemoryPath {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying db: %w", err)
	}
	// sqlite serializes writers; one connection also keeps memory databases alive.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&accountRow{}, &settingsRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	log.Debug().Str("path", path).Msg("credential store opened")

	return &GormRepository{db: db, log: log}, nil
}

func (r *GormRepository) conn(ctx context.Context) (*gorm.DB, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	return r.db.WithContext(ctx), nil
}

// LoadAccounts implements Repository.
func (r *GormRepository) LoadAccounts(ctx context.Context) ([]account.Account, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []accountRow
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: load accounts: %w", err)
	}

	out := make([]account.Account, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAccount())
	}
	return out, nil
}

// SaveAccount implements Repository.
func (r *GormRepository) SaveAccount(ctx context.Context, a *account.Account) error {
	if a.SessionToken == "" {
		return ErrMissingSessionToken
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	if a.BanState == "" {
		a.BanState = account.BanNone
	}
	row := toRow(a)
	if row.ID == 0 {
		err = db.Create(&row).Error
	} else {
		err = db.Save(&row).Error
	}
	if err != nil {
		return fmt.Errorf("store: save account %q: %w", a.Email, err)
	}

	a.ID = row.ID
	a.CreatedAt = row.CreatedAt
	a.UpdatedAt = row.UpdatedAt
	return nil
}

// DeleteAccount implements Repository.
func (r *GormRepository) DeleteAccount(ctx context.Context, id int64) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Delete(&accountRow{}, id)
	if res.Error != nil {
		return fmt.Errorf("store: delete account %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) loadSettings(ctx context.Context, name string) (settingsRow, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return settingsRow{}, err
	}

	var row settingsRow
	err = db.Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settingsRow{}, ErrNotFound
	}
	if err != nil {
		return settingsRow{}, fmt.Errorf("store: load %s settings: %w", name, err)
	}
	return row, nil
}

func (r *GormRepository) saveSettings(ctx context.Context, row *settingsRow) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.Save(row).Error; err != nil {
		return fmt.Errorf("store: save %s settings: %w", row.Name, err)
	}
	return nil
}

// LoadQuotaConfig implements Repository.
func (r *GormRepository) LoadQuotaConfig(ctx context.Context) (QuotaConfig, error) {
	row, err := r.loadSettings(ctx, settingsQuota)
	if err != nil {
		return QuotaConfig{}, err
	}
	return QuotaConfig{
		MaxConcurrency: row.MaxConcurrency,
		RateLimitBan:   time.Duration(row.RateLimitBanMS) * time.Millisecond,
	}, nil
}

// SaveQuotaConfig implements Repository.
func (r *GormRepository) SaveQuotaConfig(ctx context.Context, cfg QuotaConfig) error {
	return r.saveSettings(ctx, &settingsRow{
		Name:           settingsQuota,
		MaxConcurrency: cfg.MaxConcurrency,
		RateLimitBanMS: cfg.RateLimitBan.Milliseconds(),
	})
}

// LoadDebugConfig implements Repository.
func (r *GormRepository) LoadDebugConfig(ctx context.Context) (DebugConfig, error) {
	row, err := r.loadSettings(ctx, settingsDebug)
	if err != nil {
		return DebugConfig{}, err
	}
	return DebugConfig{
		Enabled:         row.DebugEnabled,
		LogRequestBody:  row.LogRequestBody,
		LogResponseBody: row.LogResponseBody,
		MaxBodyLogSize:  row.MaxBodyLogSize,
	}, nil
}

// SaveDebugConfig implements Repository.
func (r *GormRepository) SaveDebugConfig(ctx context.Context, cfg DebugConfig) error {
	return r.saveSettings(ctx, &settingsRow{
		Name:            settingsDebug,
		DebugEnabled:    cfg.Enabled,
		LogRequestBody:  cfg.LogRequestBody,
		LogResponseBody: cfg.LogResponseBody,
		MaxBodyLogSize:  cfg.MaxBodyLogSize,
	})
}

// Close releases the database handle. Safe to call more than once.
func (r *GormRepository) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
