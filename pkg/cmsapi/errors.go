package cmsapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Machine-readable error codes
// ============================================================================

const (
	// CodeNetworkError marks transport failures: offline, DNS, timeout.
	CodeNetworkError = "NETWORK_ERROR"

	// Auth-specific codes for programmatic branching.
	CodeNoRefreshToken = "NO_REFRESH_TOKEN"
	CodeLoginError     = "LOGIN_ERROR"
	CodeLogoutError    = "LOGOUT_ERROR"
	CodeRefreshError   = "REFRESH_ERROR"
	CodeVerifyError    = "VERIFY_ERROR"
	CodeProfileError   = "PROFILE_ERROR"
	CodePasswordError  = "PASSWORD_ERROR"

	// CodeServerError is the fallback for responses with no usable body.
	CodeServerError = "SERVER_ERROR"
)

// ============================================================================
// APIError - structured failure reported by the server
// ============================================================================

// APIError is a failure the server actually reported: a non-2xx status or a
// response envelope with status "error". Message carries the backend's text
// verbatim so users see the server's own validation wording.
type APIError struct {
	// StatusCode is the HTTP status of the response, 0 for errors raised
	// before a request was made (e.g. a missing refresh token).
	StatusCode int

	// Code is a stable machine-readable code.
	Code string

	// Message is the server-supplied human-readable message.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrNoRefreshToken is returned when a refresh is attempted without a
// stored refresh token. It fails before any request is made.
var ErrNoRefreshToken = &APIError{
	Code:    CodeNoRefreshToken,
	Message: "no refresh token available",
}

// ============================================================================
// NetworkError - the server could not be reached at all
// ============================================================================

// NetworkError wraps a transport failure. It is deliberately distinct from
// APIError: there is no server message to show, only a generic
// "cannot reach server" string.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return CodeNetworkError + ": cannot reach server"
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is (or wraps) a transport failure.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// ============================================================================
// Error parsing helpers
// ============================================================================

// errorFromResponse converts a failed response into an *APIError. The
// server's envelope message passes through verbatim when present; bodies
// that cannot be parsed fall back to a generic HTTP status description.
func errorFromResponse(statusCode int, body []byte) *APIError {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return &APIError{
			StatusCode: statusCode,
			Message:    env.Message,
		}
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       CodeServerError,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode)),
	}
}

// withDefaultCode fills in an operation-specific code on API errors the
// server left uncoded. Network errors and foreign errors pass through.
func withDefaultCode(err error, code string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "" {
		apiErr.Code = code
	}
	return err
}
