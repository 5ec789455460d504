// Package respond writes the JSON envelopes shared by every endpoint and maps
// the error taxonomy onto HTTP status codes.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

var (
	ErrConfig       = errors.New("server configuration error")
	ErrValidation   = errors.New("invalid request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrUpstream     = errors.New("upstream service error")
	ErrRateLimited  = errors.New("rate limited")
)

// HTTPError is an error with a public message. Kind is one of the sentinel
// errors above and decides the status code.
type HTTPError struct {
	Kind    error
	Message string
	Details any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func Config(missing []string) *HTTPError {
	return &HTTPError{Kind: ErrConfig, Message: "Server configuration error", Err: fmt.Errorf("missing %v", missing)}
}

func BadRequest(msg string) *HTTPError {
	return &HTTPError{Kind: ErrValidation, Message: msg}
}

func Unauthorized(msg string) *HTTPError {
	return &HTTPError{Kind: ErrUnauthorized, Message: msg}
}

func Forbidden(msg string) *HTTPError {
	return &HTTPError{Kind: ErrForbidden, Message: msg}
}

func NotFound(msg string) *HTTPError {
	return &HTTPError{Kind: ErrNotFound, Message: msg}
}

func TooManyRequests(msg string) *HTTPError {
	return &HTTPError{Kind: ErrRateLimited, Message: msg}
}

// Upstream wraps a failed third-party call. details is exposed to the caller
// and should only carry the upstream error body.
func Upstream(msg string, err error, details any) *HTTPError {
	return &HTTPError{Kind: ErrUpstream, Message: msg, Err: err, Details: details}
}

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// OK writes {"success": true, ...fields}.
func OK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	JSON(w, http.StatusOK, body)
}

// Error writes {"error": msg} for err. Errors outside the taxonomy become a
// generic 500 so no internal detail reaches the caller.
func Error(w http.ResponseWriter, err error) {
	status := Status(err)

	var he *HTTPError
	if !errors.As(err, &he) {
		JSON(w, status, map[string]any{"error": "Internal server error"})
		return
	}

	body := map[string]any{"error": he.Message}
	if he.Details != nil {
		body["details"] = he.Details
	}
	JSON(w, status, body)
}
