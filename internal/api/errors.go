// Package api provides an HTTP client for the Scrybble document service and
// its OAuth2 authorization server, with retry, request pacing, and error
// classification.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")
)

// ErrNetworkUnreachable wraps transport-level failures: DNS, refused
// connections, TLS errors, timeouts before a response arrived.
var ErrNetworkUnreachable = errors.New("api: network unreachable")

// ErrInvalidOAuthState is returned by the browser login callback when the
// state parameter does not match the one sent (possible CSRF).
var ErrInvalidOAuthState = errors.New("api: OAuth2 state mismatch")

// ErrArchiveTooLarge is returned when a download exceeds the configured cap.
var ErrArchiveTooLarge = errors.New("api: archive exceeds size limit")

// StatusError is a non-2xx response. It wraps a sentinel from classifyStatus
// and keeps the response body for debugging.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Device flow error codes from RFC 8628 section 3.5.
const (
	DeviceAuthorizationPending = "authorization_pending"
	DeviceSlowDown             = "slow_down"
	DeviceAccessDenied         = "access_denied"
	DeviceExpiredToken         = "expired_token"
)

// DeviceFlowError is an error response from the token endpoint while polling
// with a device code.
type DeviceFlowError struct {
	Code        string
	Description string
}

func (e *DeviceFlowError) Error() string {
	if e.Description != "" && e.Description != e.Code {
		return fmt.Sprintf("api: device flow: %s: %s", e.Code, e.Description)
	}

	return "api: device flow: " + e.Code
}

// StatusCode extracts the HTTP status from err, or 0 if err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}

	return 0
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
