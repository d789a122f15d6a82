// Package apperror provides the client's error taxonomy. Every failure the
// user can see is an *AppError carrying a Kind, the HTTP status (when one was
// received) and a human-readable message.
//
// Messages reported by the backend are kept verbatim so the user sees exactly
// what the server said.
package apperror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for recovery decisions.
type Kind string

const (
	KindAuthExpired        Kind = "auth_expired"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindValidation         Kind = "validation"
	KindNetwork            Kind = "network"
	KindTimeout            Kind = "timeout"
	KindServer             Kind = "server"
	KindMalformedResponse  Kind = "malformed_response"
	KindPartialPersistence Kind = "partial_persistence"
	KindInternal           Kind = "internal"
)

// AppError is the base error type for every client-side failure.
type AppError struct {
	// Kind is the machine-readable classifier.
	Kind Kind `json:"kind"`

	// Code is the HTTP status code, zero when no response was received.
	Code int `json:"code,omitempty"`

	// Message is safe to show to the user.
	Message string `json:"message"`

	// Internal holds the underlying error for logging.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Kind, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// --- Constructors ---

// NewAuthExpired reports a stored credential that failed local validation.
func NewAuthExpired(message string) *AppError {
	return &AppError{Kind: KindAuthExpired, Code: http.StatusUnauthorized, Message: message}
}

// NewUnauthorized creates a 401 error.
func NewUnauthorized(message string) *AppError {
	return &AppError{Kind: KindUnauthorized, Code: http.StatusUnauthorized, Message: message}
}

// NewForbidden creates a 403 error.
func NewForbidden(message string) *AppError {
	return &AppError{Kind: KindForbidden, Code: http.StatusForbidden, Message: message}
}

// NewValidation reports bad input caught before any network call.
func NewValidation(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

// NewNetwork wraps a transport failure. Context deadlines become KindTimeout.
func NewNetwork(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Kind: KindTimeout, Message: "the server did not respond in time", Internal: err}
	}
	return &AppError{Kind: KindNetwork, Message: "could not reach the server", Internal: err}
}

// NewMalformedResponse reports a response body the client could not use.
func NewMalformedResponse(message string, err error) *AppError {
	return &AppError{Kind: KindMalformedResponse, Message: message, Internal: err}
}

// NewPartialPersistence reports a container saved with some children missing.
func NewPartialPersistence(message string) *AppError {
	return &AppError{Kind: KindPartialPersistence, Message: message}
}

// NewInternal wraps an unexpected local failure.
func NewInternal(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: "an unexpected error occurred", Internal: err}
}

// FromResponse maps a non-2xx response onto the taxonomy. The message is the
// server's own text: the "error" or "detail" field of a JSON body, otherwise
// the trimmed body, otherwise the status text.
func FromResponse(status int, body []byte) *AppError {
	msg := extractMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := &AppError{Code: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		e.Kind = KindValidation
	default:
		e.Kind = KindServer
	}
	return e
}

func extractMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error", "detail", "message"} {
			switch v := payload[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if m, ok := v["message"].(string); ok && m != "" {
					return m
				}
			}
		}
	}
	return trimmed
}

// KindOf returns the Kind of the first AppError in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsAuth reports whether err means the user has to sign in again.
func IsAuth(err error) bool {
	switch KindOf(err) {
	case KindUnauthorized, KindForbidden, KindAuthExpired:
		return true
	}
	return false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// SafeMessage returns the human-readable message of an AppError, or a
// generic one for any other error type.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}
