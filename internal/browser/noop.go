package browser

import (
	"context"

	"github.com/omarluq/flow-relay/internal/apperr"
)

// NoopService is used when browser automation is disabled. It cannot mint
// captcha tokens, so generation fails fast with an unavailable error.
type NoopService struct{}

// AcquireCaptchaToken implements Service.
func (NoopService) AcquireCaptchaToken(context.Context, int64, string) (string, error) {
	return "", apperr.Wrap(apperr.KindUnavailable, ErrDisabled, "captcha")
}

// RefreshSessionToken implements Service.
func (NoopService) RefreshSessionToken(context.Context, int64, string) (string, error) {
	return "", nil
}

// KeepAlive implements Service.
func (NoopService) KeepAlive(context.Context) error { return nil }

// Close implements Service.
func (NoopService) Close() error { return nil }
