// Package browser adapts the browser-automation collaborator that mints
// reCAPTCHA tokens and re-samples session cookies from live browser
// contexts.
//
// One Service is constructed per process by the composition root and
// injected wherever it is needed. Calls for different accounts run
// concurrently; calls for the same account are serialized by the service.
package browser

import (
	"context"
	"errors"
)

// Service is the browser-automation collaborator.
type Service interface {
	// AcquireCaptchaToken returns a fresh reCAPTCHA token minted in the
	// account's browser context for the given project.
	AcquireCaptchaToken(ctx context.Context, accountID int64, projectID string) (string, error)

	// RefreshSessionToken reads the current session cookie from the
	// account's browser context. An empty result means no cookie was found.
	RefreshSessionToken(ctx context.Context, accountID int64, projectID string) (string, error)

	// KeepAlive refreshes every open browser context so sessions stay warm.
	KeepAlive(ctx context.Context) error

	// Close releases the service's resources.
	Close() error
}

// Sentinel errors.
var (
	ErrDisabled = errors.New("browser: automation is disabled")
	ErrNoToken  = errors.New("browser: no token returned")
	ErrClosed   = errors.New("browser: service closed")
)
