package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func staticKeys(keys ...string) KeysProvider {
	return func() []string { return keys }
}

func TestAuthMiddleware_ValidKey(t *testing.T) {
	t.Parallel()

	handler := AuthMiddleware(staticKeys("secret-key"))(okHandler())

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("x-api-key", "secret-key") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret-key") },
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", http.NoBody)
		set(req)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	t.Parallel()

	handler := AuthMiddleware(staticKeys("secret-key"))(okHandler())

	tests := []struct {
		name    string
		header  string
		value   string
		message string
	}{
		{name: "missing", message: "missing api key"},
		{name: "wrong api key", header: "x-api-key", value: "nope", message: "invalid"},
		{name: "wrong bearer", header: "Authorization", value: "Bearer nope", message: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/v1/models", http.NoBody)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "authentication_error")
			assert.Contains(t, rec.Body.String(), tt.message)
		})
	}
}

func TestAuthMiddleware_NoKeysAllowsAll(t *testing.T) {
	t.Parallel()

	handler := AuthMiddleware(staticKeys())(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_FollowsKeyChanges(t *testing.T) {
	t.Parallel()

	var current atomic.Value
	current.Store([]string{"old"})
	handler := AuthMiddleware(func() []string { return current.Load().([]string) })(okHandler())

	call := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("x-api-key", key)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("old"))
	current.Store([]string{"new"})
	assert.Equal(t, http.StatusUnauthorized, call("old"))
	assert.Equal(t, http.StatusOK, call("new"))
}

func TestKeysFingerprint(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, keysFingerprint([]string{"a|b"}), keysFingerprint([]string{"a", "b"}))
	assert.Equal(t, keysFingerprint([]string{"a", "b"}), keysFingerprint([]string{"a", "b"}))
}

func TestRequireKeysMiddleware(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RequireKeysMiddleware(staticKeys())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/pool", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	RequireKeysMiddleware(staticKeys("k"))(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/pool", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestMaxBodyBytesMiddleware(t *testing.T) {
	t.Parallel()

	handler := MaxBodyBytesMiddleware(func() int64 { return 8 })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := decodeJSON(r, &body); err != nil {
			WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"prompt":"far too long"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	var deadline time.Time
	var has bool
	handler := TimeoutMiddleware(func() time.Duration { return time.Minute })(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, has = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	require.True(t, has)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	handler = TimeoutMiddleware(func() time.Duration { return 0 })(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, has = r.Context().Deadline()
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(context.Background())
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, has)
}

func TestLoggingMiddlewareCapturesStatus(t *testing.T) {
	t.Parallel()

	handler := LoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "500µs", formatDuration(500*time.Microsecond))
	assert.Equal(t, "12.50ms", formatDuration(12500*time.Microsecond))
	assert.Equal(t, "1.50s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m0s", formatDuration(2*time.Minute))
}
