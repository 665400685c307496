// Package proxy is the relay's HTTP surface: generation endpoints, the
// admin API and the server that hosts them.
package proxy

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omarluq/flow-relay/internal/apperr"
)

// Relay metadata headers.
const (
	HeaderRelayAccount  = "X-Flow-Relay-Account"
	HeaderRelayAttempts = "X-Flow-Relay-Attempts"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	Attempts          int    `json:"attempts,omitempty"`
}

// StatusFor maps an error kind to the HTTP status returned to clients.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPoolExhausted, apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindCaptchaRejected, apperr.KindUpstream, apperr.KindAuthExpired, apperr.KindCredential:
		return http.StatusBadGateway
	case apperr.KindTransient:
		return http.StatusGatewayTimeout
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as an ErrorResponse. Classified errors keep their
// kind as code and carry a Retry-After header when a hint exists; anything
// else is an internal error with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if IsBodyTooLargeError(err) {
		WriteBodyTooLargeError(w)
		return
	}

	e, ok := apperr.As(err)
	if !ok {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unclassified error")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorDetail{
			Code:    string(apperr.KindInternal),
			Message: "internal error",
		}})
		return
	}

	status := StatusFor(e.Kind)
	detail := ErrorDetail{Code: string(e.Kind), Message: e.Error(), Attempts: e.Attempts}

	if d, has := e.RetryAfter.Get(); has {
		seconds := max(int(math.Ceil(d.Seconds())), 1)
		detail.RetryAfterSeconds = &seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	event := zerolog.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Error()
	}
	event.Err(err).Str("code", detail.Code).Int("status", status).Msg("request failed")

	writeJSON(w, status, ErrorResponse{Error: detail})
}

// WriteErrorCode writes an error that did not come from the core.
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// IsBodyTooLargeError checks if an error is from http.MaxBytesReader.
func IsBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// WriteBodyTooLargeError writes a 413 Request Entity Too Large response.
func WriteBodyTooLargeError(w http.ResponseWriter) {
	WriteErrorCode(w, http.StatusRequestEntityTooLarge, "request_too_large",
		"request body exceeds the maximum allowed size")
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
