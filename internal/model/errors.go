package model

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError marks a fatal problem with the operator-supplied configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// NewConfigError builds a ConfigError.
func NewConfigError(reason string) error { return &ConfigError{Reason: reason} }

// NetworkError marks a transport-level RPC or subscription failure. It is never
// fatal: the pool absorbs it, updates endpoint health, and rotates.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError wraps err as a NetworkError attributed to endpoint.
func NewNetworkError(endpoint string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Endpoint: endpoint, Err: err}
}

// IsRateLimit reports whether err's text matches the known provider rate-limit
// substrings. A RateLimitError is handled identically to a NetworkError; it is
// only distinguished for logging.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	return containsAnyFold(err.Error(), "429", "rate limit", "quota")
}

// IsPendingUnsupported reports whether err's text indicates the endpoint does not
// support mempool subscriptions.
func IsPendingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	return containsAnyFold(err.Error(), "not supported", "not available", "unsupported")
}

// FatalInternalError marks a programmer error or invariant violation that should
// terminate the process.
type FatalInternalError struct {
	Reason string
}

func (e *FatalInternalError) Error() string { return "fatal: " + e.Reason }

// NewFatalInternalError builds a FatalInternalError.
func NewFatalInternalError(reason string) error { return &FatalInternalError{Reason: reason} }

// ErrNotFound is returned by GetTransaction when the hash is unknown to the node
// (common for pending transactions that dropped out of the mempool).
var ErrNotFound = errors.New("transaction not found")

func containsAnyFold(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
