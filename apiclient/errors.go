package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRefreshFailed indicates that the session refresh call failed and
	// stored credentials were cleared. The user must log in again.
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrForbidden matches any 401/403 response that was not recovered by a refresh.
	ErrForbidden = errors.New("forbidden")

	// ErrDuplicateRequestID is returned by Registry.Register when the id is already tracked.
	ErrDuplicateRequestID = errors.New("duplicate request id")

	// ErrInvalidRefreshResponse indicates the refresh endpoint answered 2xx with an unusable body.
	ErrInvalidRefreshResponse = errors.New("invalid refresh response")

	// ErrNoToken is returned by TokenStore.Token when no access token is held.
	ErrNoToken = errors.New("no access token")

	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("client closed")
)

// ErrorResponse is the JSON error body returned by the storefront API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// TransportError is a network-level failure: no HTTP response was received.
// Cancellation through CancelAll surfaces as a TransportError wrapping context.Canceled.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is a completed request with a non-2xx status.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
	Code       string
	Body       []byte

	sentToken string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// Is reports ErrForbidden for 401 and 403 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrForbidden &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}
