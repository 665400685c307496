package auth

import (
	"net/http"
	"strings"
)

// BearerAuthenticator validates Authorization: Bearer token authentication.
type BearerAuthenticator struct {
	keys *KeySet
}

// NewBearerAuthenticator creates an authenticator over keys.
func NewBearerAuthenticator(keys *KeySet) *BearerAuthenticator {
	return &BearerAuthenticator{keys: keys}
}

// Validate checks the Authorization header for an accepted bearer token.
func (a *BearerAuthenticator) Validate(r *http.Request) Result {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Result{Type: TypeBearer, Error: "missing authorization header"}
	}

	// Scheme is case insensitive.
	if len(header) < 7 || !strings.EqualFold(header[:6], "bearer") || header[6] != ' ' {
		return Result{Type: TypeBearer, Error: "invalid authorization scheme", Presented: true}
	}

	token := strings.TrimSpace(header[7:])
	if token == "" {
		return Result{Type: TypeBearer, Error: "empty bearer token", Presented: true}
	}

	id, ok := a.keys.Match(token)
	if !ok {
		return Result{Type: TypeBearer, Error: "invalid bearer token", Presented: true}
	}
	return Result{Type: TypeBearer, KeyID: id, Valid: true, Presented: true}
}

// Type returns the authentication type (bearer).
func (a *BearerAuthenticator) Type() Type {
	return TypeBearer
}
