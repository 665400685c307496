package auth

import (
	"net/http"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// ChainAuthenticator tries multiple authenticators in order. The first
// success wins. On failure the error of the first authenticator that saw a
// credential is reported, so a wrong key is not masked by a missing header.
type ChainAuthenticator struct {
	authenticators []Authenticator
}

// NewChainAuthenticator creates a chain of authenticators.
func NewChainAuthenticator(authenticators ...Authenticator) *ChainAuthenticator {
	return &ChainAuthenticator{authenticators: authenticators}
}

// Validate tries each authenticator in order until one succeeds.
func (c *ChainAuthenticator) Validate(r *http.Request) Result {
	if len(c.authenticators) == 0 {
		return Result{Type: TypeNone, Error: "no authentication configured"}
	}

	results := make([]Result, 0, len(c.authenticators))
	for _, a := range c.authenticators {
		res := a.Validate(r)
		if res.Valid {
			return res
		}
		results = append(results, res)
	}

	failure, ok := lo.Find(results, func(res Result) bool { return res.Presented })
	if !ok {
		return Result{Type: TypeNone, Error: "missing api key"}
	}
	return Result{Type: TypeNone, Error: failure.Error, Presented: true}
}

// Type returns TypeNone since this is a meta-authenticator.
func (c *ChainAuthenticator) Type() Type {
	return TypeNone
}

// ValidateResult is Validate as a mo.Result.
func (c *ChainAuthenticator) ValidateResult(r *http.Request) mo.Result[Result] {
	return toResult(c.Validate(r))
}

// ValidationError wraps authentication failure details.
type ValidationError struct {
	Type    Type
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with the given type and message.
func NewValidationError(authType Type, message string) *ValidationError {
	return &ValidationError{Type: authType, Message: message}
}

func toResult(res Result) mo.Result[Result] {
	if res.Valid {
		return mo.Ok(res)
	}
	return mo.Err[Result](NewValidationError(res.Type, res.Error))
}
