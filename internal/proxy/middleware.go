package proxy

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/flow-relay/internal/auth"
)

// RequestIDMiddleware adds X-Request-ID header and logger with request ID to context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			ctx := AddRequestID(request.Context(), request.Header.Get("X-Request-ID"))
			writer.Header().Set("X-Request-ID", GetRequestID(ctx))
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// LoggerMiddleware attaches base to each request context, so handlers can
// use zerolog.Ctx. It must run before RequestIDMiddleware.
func LoggerMiddleware(base *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			next.ServeHTTP(writer, request.WithContext(base.WithContext(request.Context())))
		})
	}
}

// LoggingMiddleware logs each request with method, path, status and duration.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: writer, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, request)

			duration := time.Since(start)
			logger := zerolog.Ctx(request.Context()).With().
				Str("method", request.Method).
				Str("path", request.URL.Path).
				Int("status", wrapped.statusCode).
				Str("duration", formatDuration(duration)).
				Logger()

			msg := statusSymbol(wrapped.statusCode) + " " + http.StatusText(wrapped.statusCode) +
				" (" + formatDuration(duration) + ")"
			switch {
			case wrapped.statusCode >= 500:
				logger.Error().Msg(msg)
			case wrapped.statusCode >= 400:
				logger.Warn().Msg(msg)
			default:
				logger.Info().Msg(msg)
			}
		})
	}
}

func statusSymbol(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "✗"
	case statusCode >= 400:
		return "⚠"
	default:
		return "✓"
	}
}

// formatDuration formats duration with dynamic units so fast requests show
// in µs while longer ones show in ms or s.
func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	duration = duration.Round(time.Microsecond)
	switch {
	case duration < time.Millisecond:
		return fmt.Sprintf("%dµs", duration.Microseconds())
	case duration < time.Second:
		return fmt.Sprintf("%.2fms", float64(duration)/float64(time.Millisecond))
	case duration < time.Minute:
		return fmt.Sprintf("%.2fs", duration.Seconds())
	default:
		return duration.Truncate(time.Second).String()
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// KeysProvider returns the currently accepted keys.
type KeysProvider func() []string

type authCache struct {
	chain       auth.Authenticator
	fingerprint string
}

// authCacheStore rebuilds the authenticator only when the key list changes.
type authCacheStore struct {
	current *authCache
	mu      sync.Mutex
}

func (s *authCacheStore) get(keys []string) auth.Authenticator {
	fp := keysFingerprint(keys)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.fingerprint != fp {
		s.current = &authCache{fingerprint: fp, chain: auth.New(keys)}
	}
	return s.current.chain
}

// keysFingerprint uses a length-prefixed encoding so keys containing the
// separator cannot collide.
func keysFingerprint(keys []string) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.Itoa(len(k)))
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte('|')
	}
	return b.String()
}

// AuthMiddleware enforces the keys returned by provider on each request.
// An empty key list lets every request through.
func AuthMiddleware(provider KeysProvider) func(http.Handler) http.Handler {
	store := &authCacheStore{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			chain := store.get(provider())
			if chain == nil {
				next.ServeHTTP(writer, request)
				return
			}

			result := chain.Validate(request)
			logger := zerolog.Ctx(request.Context())
			if !result.Valid {
				logger.Warn().Str("error", result.Error).Msg("authentication failed")
				WriteErrorCode(writer, http.StatusUnauthorized, "authentication_error", result.Error)
				return
			}

			logger.Debug().Str("auth_type", string(result.Type)).Str("key_id", result.KeyID).Msg("authentication succeeded")
			next.ServeHTTP(writer, request)
		})
	}
}

// RequireKeysMiddleware answers 404 while provider returns no keys. It hides
// the admin surface until admin keys are configured.
func RequireKeysMiddleware(provider KeysProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if len(provider()) == 0 {
				http.NotFound(writer, request)
				return
			}
			next.ServeHTTP(writer, request)
		})
	}
}

// MaxBodyBytesMiddleware limits request body size. The limitProvider is
// called per request so the limit follows hot-reloads.
func MaxBodyBytesMiddleware(limitProvider func() int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if limit := limitProvider(); limit > 0 && request.Body != nil {
				request.Body = http.MaxBytesReader(writer, request.Body, limit)
			}
			next.ServeHTTP(writer, request)
		})
	}
}

// TimeoutMiddleware bounds each request's context by the duration returned
// from provider. Zero means no bound.
func TimeoutMiddleware(provider func() time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if d := provider(); d > 0 {
				ctx, cancel := context.WithTimeout(request.Context(), d)
				defer cancel()
				request = request.WithContext(ctx)
			}
			next.ServeHTTP(writer, request)
		})
	}
}
