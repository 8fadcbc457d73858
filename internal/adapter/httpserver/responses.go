// Package httpserver contains the HTTP handlers and middleware for the
// verification API. It translates between wire payloads and the usecase
// layer; no business rules live here.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message, Details: details}})
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		status, code = http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrCircuitOpen):
		status, code = http.StatusServiceUnavailable, "CIRCUIT_OPEN"
	default:
		// Internal details stay out of the response; the correlation id is
		// enough to find the log line.
		msg = "internal error"
	}
	if cid := observability.CorrelationIDFromContext(r.Context()); cid != "" && details == nil {
		details = map[string]string{"correlationId": cid}
	}
	writeErrorCode(w, status, code, msg, details)
}
