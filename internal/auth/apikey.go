package auth

import (
	"net/http"

	"github.com/samber/mo"
)

// APIKeyAuthenticator validates x-api-key header authentication.
type APIKeyAuthenticator struct {
	keys *KeySet
}

// NewAPIKeyAuthenticator creates an authenticator over keys.
func NewAPIKeyAuthenticator(keys *KeySet) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys}
}

// Validate checks the x-api-key header.
func (a *APIKeyAuthenticator) Validate(r *http.Request) Result {
	provided := r.Header.Get("x-api-key")
	if provided == "" {
		return Result{Type: TypeAPIKey, Error: "missing x-api-key header"}
	}

	id, ok := a.keys.Match(provided)
	if !ok {
		return Result{Type: TypeAPIKey, Error: "invalid x-api-key", Presented: true}
	}
	return Result{Type: TypeAPIKey, KeyID: id, Valid: true, Presented: true}
}

// Type returns the authentication type (api_key).
func (a *APIKeyAuthenticator) Type() Type {
	return TypeAPIKey
}

// ValidateResult is Validate as a mo.Result.
func (a *APIKeyAuthenticator) ValidateResult(r *http.Request) mo.Result[Result] {
	return toResult(a.Validate(r))
}
