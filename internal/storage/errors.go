package storage

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the storage service.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: storage API returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable classifies the response. Rate limits and server-side failures are
// worth retrying; authentication and malformed-request errors are not.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsAuthError reports whether err is an authentication or permission failure.
// Such mappings stay errored until credentials are fixed and reloaded.
func IsAuthError(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden
}

// TransportError wraps a network-level failure (connection refused, timeout,
// DNS). These are transient by classification.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable always holds for transport-level failures.
func (e *TransportError) Retryable() bool { return true }
