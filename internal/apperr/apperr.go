// Package apperr defines the classified error taxonomy shared by the relay.
//
// Classification happens once, at the upstream adapter boundary. Everything
// above it branches on Kind, never on status codes or message text.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// Kind is the taxonomy code of a relay error.
type Kind string

// Error kinds.
const (
	KindPoolExhausted   Kind = "pool_exhausted"
	KindCaptchaRejected Kind = "captcha_rejected"
	KindRateLimited     Kind = "rate_limited"
	KindAuthExpired     Kind = "auth_expired"
	KindCredential      Kind = "credential_error"
	KindTransient       Kind = "transient_error"
	KindUpstream        Kind = "upstream_error"
	KindUnavailable     Kind = "unavailable"
	KindNotFound        Kind = "not_found"
	KindInvalidRequest  Kind = "invalid_request"
	KindInternal        Kind = "internal_error"
)

// Sentinel errors usable with errors.Is. Matching is by Kind only.
var (
	ErrPoolExhausted   = &Error{Kind: KindPoolExhausted}
	ErrCaptchaRejected = &Error{Kind: KindCaptchaRejected}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrAuthExpired     = &Error{Kind: KindAuthExpired}
	ErrCredential      = &Error{Kind: KindCredential}
	ErrTransient       = &Error{Kind: KindTransient}
	ErrUpstream        = &Error{Kind: KindUpstream}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidRequest  = &Error{Kind: KindInvalidRequest}
)

// Error is a classified relay error.
type Error struct {
	Err        error
	RetryAfter mo.Option[time.Duration]
	Kind       Kind
	Message    string
	AccountID  int64
	Status     int
	Attempts   int
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithRetryAfter returns a copy of e carrying a retry hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	c := *e
	if d > 0 {
		c.RetryAfter = mo.Some(d)
	}
	return &c
}

// WithAttempts returns a copy of e recording how many attempts were made.
func (e *Error) WithAttempts(n int) *Error {
	c := *e
	c.Attempts = n
	return &c
}

// WithAccount returns a copy of e bound to an account.
func (e *Error) WithAccount(id int64) *Error {
	c := *e
	c.AccountID = id
	return &c
}

// WithStatus returns a copy of e recording the upstream HTTP status.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.Status = status
	return &c
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterOf returns the retry hint carried by err, if any.
func RetryAfterOf(err error) mo.Option[time.Duration] {
	if e, ok := As(err); ok {
		return e.RetryAfter
	}
	return mo.None[time.Duration]()
}

// AttemptsOf returns the attempt count recorded on err, or 0.
func AttemptsOf(err error) int {
	if e, ok := As(err); ok {
		return e.Attempts
	}
	return 0
}
