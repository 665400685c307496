package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/flow-relay/internal/proxy"
)

const testAdminKey = "admin-secret"

type recordedCall struct {
	Method string
	Path   string
	Body   string
}

// fakeAdmin records calls and answers like the admin API.
type fakeAdmin struct {
	calls []recordedCall
	mu    sync.Mutex
}

func (f *fakeAdmin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") != testAdminKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"authentication_error","message":"invalid api key"}}`))
		return
	}

	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/admin/accounts":
		_ = json.NewEncoder(w).Encode(map[string]any{"accounts": []proxy.AccountView{
			{ID: 1, Email: "a@example.com", Status: "active", BanState: "none", InFlight: 1, Ceiling: 3, Credits: 100},
			{ID: 2, Email: "b@example.com", Status: "inactive", BanState: "banned", Ceiling: 3},
		}})
	case r.Method == http.MethodPost && r.URL.Path == "/admin/accounts":
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(proxy.AccountView{ID: 9, Email: "new@example.com"})
	case r.URL.Path == "/admin/accounts/404/unban":
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"account 404 not found"}}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeAdmin) last() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestAdminClient(t *testing.T, key string) (*adminClient, *fakeAdmin) {
	t.Helper()
	fake := &fakeAdmin{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return newAdminClient(srv.URL, key), fake
}

func TestAdminClientList(t *testing.T) {
	t.Parallel()

	c, _ := newTestAdminClient(t, testAdminKey)

	var out strings.Builder
	require.NoError(t, c.list(context.Background(), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "EMAIL")
	assert.Contains(t, lines[1], "a@example.com")
	assert.Contains(t, lines[1], "1/3")
	assert.Contains(t, lines[2], "banned")
}

func TestAdminClientAdd(t *testing.T) {
	t.Parallel()

	c, fake := newTestAdminClient(t, testAdminKey)

	var out strings.Builder
	require.NoError(t, c.add(context.Background(), &out, proxy.AddAccountRequest{SessionToken: "st", MaxConcurrency: 2}))

	call := fake.last()
	assert.Equal(t, http.MethodPost, call.Method)
	assert.JSONEq(t, `{"session_token":"st","max_concurrency":2}`, call.Body)
	assert.Contains(t, out.String(), "added account 9 (new@example.com)")
}

func TestAdminClientActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action string
		method string
		path   string
	}{
		{"activate", http.MethodPost, "/admin/accounts/5/activate"},
		{"deactivate", http.MethodPost, "/admin/accounts/5/deactivate"},
		{"unban", http.MethodPost, "/admin/accounts/5/unban"},
		{"delete", http.MethodDelete, "/admin/accounts/5"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			t.Parallel()

			c, fake := newTestAdminClient(t, testAdminKey)
			var out strings.Builder
			require.NoError(t, c.action(context.Background(), &out, tt.action, 5))

			call := fake.last()
			assert.Equal(t, tt.method, call.Method)
			assert.Equal(t, tt.path, call.Path)
		})
	}
}

func TestAdminClientReportsErrorMessage(t *testing.T) {
	t.Parallel()

	c, _ := newTestAdminClient(t, testAdminKey)
	err := c.action(context.Background(), &strings.Builder{}, "unban", 404)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404 account 404 not found")
}

func TestAdminClientWrongKey(t *testing.T) {
	t.Parallel()

	c, _ := newTestAdminClient(t, "wrong")
	err := c.list(context.Background(), &strings.Builder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestPickAdminKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "flag", pickAdminKey("flag", "env", []string{"cfg"}))
	assert.Equal(t, "env", pickAdminKey("", "env", []string{"cfg"}))
	assert.Equal(t, "cfg", pickAdminKey("", "", []string{"", "cfg"}))
	assert.Empty(t, pickAdminKey("", "", nil))
}
