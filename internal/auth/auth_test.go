package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/flow-relay/internal/auth"
)

func request(headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", http.NoBody)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestAuthTypes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "api_key", string(auth.TypeAPIKey))
	assert.Equal(t, "bearer", string(auth.TypeBearer))
	assert.Equal(t, "none", string(auth.TypeNone))
}

func TestKeySet(t *testing.T) {
	t.Parallel()

	set := auth.NewKeySet([]string{"alpha", "", "beta", "alpha"})
	assert.Equal(t, 2, set.Len())

	id, ok := set.Match("beta")
	assert.True(t, ok)
	assert.Equal(t, auth.KeyID("beta"), id)
	assert.Len(t, id, 8)

	_, ok = set.Match("gamma")
	assert.False(t, ok)
	_, ok = set.Match("")
	assert.False(t, ok)
}

func TestAPIKeyAuthenticator(t *testing.T) {
	t.Parallel()

	a := auth.NewAPIKeyAuthenticator(auth.NewKeySet([]string{"test-key-1", "test-key-2"}))

	tests := []struct { //nolint:govet // test table
		name      string
		header    string
		wantValid bool
		wantErr   string
	}{
		{name: "first key", header: "test-key-1", wantValid: true},
		{name: "second key", header: "test-key-2", wantValid: true},
		{name: "wrong key", header: "nope", wantErr: "invalid x-api-key"},
		{name: "missing", header: "", wantErr: "missing x-api-key header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := a.Validate(request(map[string]string{"x-api-key": tt.header}))
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, auth.TypeAPIKey, res.Type)
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}

func TestBearerAuthenticator(t *testing.T) {
	t.Parallel()

	a := auth.NewBearerAuthenticator(auth.NewKeySet([]string{"secret"}))

	tests := []struct { //nolint:govet // test table
		name      string
		header    string
		wantValid bool
		wantErr   string
	}{
		{name: "valid", header: "Bearer secret", wantValid: true},
		{name: "lowercase scheme", header: "bearer secret", wantValid: true},
		{name: "wrong token", header: "Bearer other", wantErr: "invalid bearer token"},
		{name: "basic scheme", header: "Basic c2VjcmV0", wantErr: "invalid authorization scheme"},
		{name: "no separator", header: "Bearersecret", wantErr: "invalid authorization scheme"},
		{name: "empty token", header: "Bearer    ", wantErr: "empty bearer token"},
		{name: "missing", header: "", wantErr: "missing authorization header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := a.Validate(request(map[string]string{"Authorization": tt.header}))
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	assert.Nil(t, auth.New(nil))
	assert.Nil(t, auth.New([]string{"", ""}))

	a := auth.New([]string{"k"})
	require.NotNil(t, a)

	assert.True(t, a.Validate(request(map[string]string{"x-api-key": "k"})).Valid)
	assert.True(t, a.Validate(request(map[string]string{"Authorization": "Bearer k"})).Valid)

	res := a.Validate(request(nil))
	assert.False(t, res.Valid)
	assert.Equal(t, "missing api key", res.Error)

	// A wrong key in x-api-key is reported even though bearer is tried first.
	res = a.Validate(request(map[string]string{"x-api-key": "bad"}))
	assert.Equal(t, "invalid x-api-key", res.Error)
}

func TestChainValidateResult(t *testing.T) {
	t.Parallel()

	set := auth.NewKeySet([]string{"k"})
	chain := auth.NewChainAuthenticator(auth.NewAPIKeyAuthenticator(set))

	ok := chain.ValidateResult(request(map[string]string{"x-api-key": "k"}))
	assert.True(t, ok.IsOk())

	bad := chain.ValidateResult(request(map[string]string{"x-api-key": "x"}))
	require.True(t, bad.IsError())
	var verr *auth.ValidationError
	require.ErrorAs(t, bad.Error(), &verr)
	assert.Equal(t, "invalid x-api-key", verr.Message)

	empty := auth.NewChainAuthenticator().Validate(request(nil))
	assert.False(t, empty.Valid)
	assert.Equal(t, auth.TypeNone, empty.Type)
}
