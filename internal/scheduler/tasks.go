package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Task names.
const (
	TaskUnban   = "unban"
	TaskRefresh = "refresh"
	TaskFlush   = "flush_usage"
)

// Sweeper is the token manager's background surface.
type Sweeper interface {
	AutoUnban429Tokens(ctx context.Context) (int, error)
	ProactiveRefreshAllST(ctx context.Context) (int, error)
	RefreshAllCredits(ctx context.Context) (int, error)
	FlushUsage(ctx context.Context) error
}

// KeepAliver keeps browser contexts warm.
type KeepAliver interface {
	KeepAlive(ctx context.Context) error
}

// UnbanTask clears rate-limit bans whose deadline has passed.
func UnbanTask(m Sweeper, log *zerolog.Logger) Task {
	return NewTask(TaskUnban, func(ctx context.Context) error {
		n, err := m.AutoUnban429Tokens(ctx)
		if n > 0 {
			log.Info().Int("accounts", n).Msg("expired bans cleared")
		}
		return err
	})
}

// RefreshTask keeps browser contexts alive, re-samples session tokens that
// are close to expiry and refreshes credit balances. Each step runs even if
// an earlier one failed.
func RefreshTask(m Sweeper, browser KeepAliver, log *zerolog.Logger) Task {
	return NewTask(TaskRefresh, func(ctx context.Context) error {
		var errs []error

		if browser != nil {
			if err := browser.KeepAlive(ctx); err != nil {
				log.Warn().Err(err).Msg("browser keep-alive failed")
				errs = append(errs, err)
			}
		}

		sessions, err := m.ProactiveRefreshAllST(ctx)
		errs = append(errs, err)

		credits, err := m.RefreshAllCredits(ctx)
		errs = append(errs, err)

		errs = append(errs, m.FlushUsage(ctx))

		log.Info().
			Int("sessions_refreshed", sessions).
			Int("credits_refreshed", credits).
			Msg("refresh sweep finished")
		return errors.Join(errs...)
	})
}

// FlushTask persists pending last-used stamps.
func FlushTask(m Sweeper) Task {
	return NewTask(TaskFlush, m.FlushUsage)
}
