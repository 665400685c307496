package flow

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/omarluq/flow-relay/internal/apperr"
)

// captchaReasons are error.details[].reason values the upstream uses when it
// rejects a request as automated.
var captchaReasons = map[string]struct{}{
	"RECAPTCHA_EVALUATION_FAILED":   {},
	"RECAPTCHA_VERIFICATION_FAILED": {},
	"RECAPTCHA_TOKEN_INVALID":       {},
	"PUBLIC_ERROR_UNUSUAL_ACTIVITY": {},
}

// upstreamError is the parsed Google-style error envelope.
type upstreamError struct {
	status  string
	message string
	reasons []string
	code    int64
}

func parseUpstreamError(body []byte) (upstreamError, bool) {
	e := gjson.GetBytes(body, "error")
	if !e.IsObject() {
		return upstreamError{}, false
	}
	out := upstreamError{
		code:    e.Get("code").Int(),
		status:  e.Get("status").String(),
		message: e.Get("message").String(),
	}
	for _, r := range e.Get("details.#.reason").Array() {
		out.reasons = append(out.reasons, r.String())
	}
	return out, true
}

func (u *upstreamError) captcha() bool {
	for _, r := range u.reasons {
		if _, ok := captchaReasons[r]; ok {
			return true
		}
	}
	return false
}

// classifyResponse turns an upstream response into a classified error. It
// returns nil for 2xx responses without an embedded error envelope.
func classifyResponse(status int, header http.Header, body []byte) error {
	uerr, hasErr := parseUpstreamError(body)
	ok := status >= 200 && status < 300
	if ok && !hasErr {
		return nil
	}

	msg := uerr.message
	if msg == "" {
		msg = http.StatusText(status)
	}

	var err *apperr.Error
	switch {
	case uerr.captcha(), status == http.StatusForbidden:
		err = apperr.New(apperr.KindCaptchaRejected, "%s", msg)
	case status == http.StatusTooManyRequests, uerr.status == "RESOURCE_EXHAUSTED":
		err = apperr.New(apperr.KindRateLimited, "%s", msg).WithRetryAfter(parseRetryAfter(header, body))
	case status == http.StatusUnauthorized, uerr.status == "UNAUTHENTICATED":
		err = apperr.New(apperr.KindAuthExpired, "%s", msg)
	case status >= http.StatusInternalServerError, status == http.StatusRequestTimeout:
		err = apperr.New(apperr.KindTransient, "%s", msg)
	case status == http.StatusBadRequest, uerr.status == "INVALID_ARGUMENT":
		err = apperr.New(apperr.KindInvalidRequest, "%s", msg)
	default:
		err = apperr.New(apperr.KindUpstream, "%s", msg)
	}
	return err.WithStatus(status)
}

// classifyTransport maps a failed round trip to a transient error.
func classifyTransport(err error, op string) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.KindTransient, err, "%s canceled", op)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return apperr.Wrap(apperr.KindTransient, err, "%s timed out", op)
	default:
		return apperr.Wrap(apperr.KindTransient, err, "%s", op)
	}
}

// parseRetryAfter reads the Retry-After header (seconds or HTTP date), then
// error.details[].retryDelay ("3.5s"). Zero means no hint.
func parseRetryAfter(header http.Header, body []byte) time.Duration {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			return time.Until(t)
		}
	}

	for _, d := range gjson.GetBytes(body, "error.details").Array() {
		delay := d.Get("retryDelay").String()
		if delay == "" {
			delay = d.Get("metadata.retryDelay").String()
		}
		if delay == "" {
			continue
		}
		if parsed, err := time.ParseDuration(delay); err == nil {
			return parsed
		}
	}
	return 0
}
