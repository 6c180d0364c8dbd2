package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error is an error response from the remote store.
type Error struct {
	// Status is the HTTP status code of the response.
	Status int

	// Message is the human-readable message from the store.
	Message string

	// Data carries per-field validation details, if any.
	Data map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote store error: status %d", e.Status)
	}
	return fmt.Sprintf("remote store error: status %d: %s", e.Status, e.Message)
}

// IsValidation reports whether err is a rejection of the payload itself
// (bad fields, failed rules) rather than a connectivity problem.
// Validation failures must not be queued for retry: replaying an invalid
// payload forever would never succeed.
func IsValidation(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	// 408 and 429 are transient despite being 4xx.
	switch re.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return re.Status >= 400 && re.Status < 500
}

// IsRetryable reports whether err represents a connectivity-class
// failure that the pending operation queue should absorb: network
// errors, timeouts, and server-side (5xx) responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsCancelled(err) || IsValidation(err) {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Status >= 500 ||
			re.Status == http.StatusRequestTimeout ||
			re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// url.Error and friends wrap the underlying net error; anything that
	// reached this point without an HTTP status is a transport failure.
	return true
}

// IsCancelled reports whether err is a superseded request: a fetch
// cancelled because a newer one replaced it. Callers treat these as
// no-ops, never as user-visible failures.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
