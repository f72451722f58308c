// Package proxy forwards gateway requests to the local vendor services,
// translating between the gateway's JSON protocol and the upstream's
// expected encoding.
package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for forwarding operations.
var (
	// ErrUpstreamUnreachable indicates a connection-level failure
	// (refused, DNS, timeout) before any upstream response.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrUpstreamBusy indicates the circuit breaker is open for the
	// upstream; callers are told to back off, not that the worker died.
	ErrUpstreamBusy = errors.New("upstream circuit open")
)

// UpstreamError carries a non-2xx upstream response. 4xx means the caller
// made a bad request and is relayed verbatim; 5xx is remapped by the
// response writers so the platform never sees a raw server error.
type UpstreamError struct {
	URL    string
	Status int

	// Detail is the parsed JSON body when the upstream sent one,
	// otherwise the body text.
	Detail any
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %v", e.URL, e.Status, e.Detail)
}

// IsServerError reports whether the upstream failure was a 5xx.
func (e *UpstreamError) IsServerError() bool {
	return e.Status >= 500
}

// UnreachableError wraps a connection-level failure with its target.
type UnreachableError struct {
	URL   string
	Cause error
}

// Error implements the error interface.
func (e *UnreachableError) Error() string {
	return fmt.Sprintf("upstream %s is starting or unreachable: %v", e.URL, e.Cause)
}

// Unwrap returns the underlying error.
func (e *UnreachableError) Unwrap() error {
	return ErrUpstreamUnreachable
}
