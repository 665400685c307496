// Package auth authenticates relay clients against configured keys.
// A key may be presented as an x-api-key header or as an
// Authorization: Bearer token, which is what OpenAI-style clients send.
package auth

import "net/http"

// Type represents the authentication method used.
type Type string

const (
	// TypeAPIKey represents x-api-key header authentication.
	TypeAPIKey Type = "api_key"
	// TypeBearer represents Authorization: Bearer token authentication.
	TypeBearer Type = "bearer"
	// TypeNone represents no authentication or failed auth with no valid type.
	TypeNone Type = "none"
)

// Result contains the outcome of an authentication attempt.
type Result struct {
	// Type indicates which authentication method was used (or attempted).
	Type Type
	// Error contains the error message if authentication failed.
	Error string
	// KeyID identifies the matched key without revealing it.
	KeyID string
	// Valid indicates whether authentication succeeded.
	Valid bool
	// Presented is true when the request carried a credential for Type.
	Presented bool
}

// Authenticator defines the interface for authentication mechanisms.
type Authenticator interface {
	// Validate checks the request for valid credentials.
	Validate(r *http.Request) Result

	// Type returns the authentication type this authenticator handles.
	Type() Type
}

// New returns an authenticator accepting any of keys by either method.
// Returns nil when no non-empty key is given, meaning authentication is off.
func New(keys []string) Authenticator {
	set := NewKeySet(keys)
	if set.Len() == 0 {
		return nil
	}
	return NewChainAuthenticator(NewBearerAuthenticator(set), NewAPIKeyAuthenticator(set))
}
