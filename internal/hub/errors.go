package hub

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured means the hub url or token is missing. No request is attempted.
	ErrNotConfigured = errors.New("home assistant is not configured")
	// ErrUnauthorized matches HTTP 401 and 403 responses.
	ErrUnauthorized = errors.New("home assistant rejected the access token")
	// ErrNotFound matches HTTP 404 responses.
	ErrNotFound = errors.New("not found")
)

// TransportError is a network level failure: unreachable host, reset, timeout.
type TransportError struct {
	Endpoint string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("home assistant request %s timed out: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("home assistant unreachable (%s): %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response from the hub.
type HTTPError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("home assistant returned error %d on %s: %s", e.Status, e.Endpoint, e.Body)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// DecodeError is a response body that is not the expected JSON.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid JSON response from home assistant (%s): %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
