// Package llmerr defines the shared error taxonomy for provider calls and
// routing. Adapters map backend failures into one of these classes; the
// coordinator decides between retry and fallback based on the class and
// upstream status code.
package llmerr

import (
	"errors"
	"fmt"
	"strings"
)

// Class identifies the failure category of a provider or routing error.
type Class string

const (
	// ClassConfiguration marks a provider misconfiguration (missing
	// credential, unknown type). Never retried; the provider is excluded
	// from the pool at startup or skipped via fallback.
	ClassConfiguration Class = "configuration_error"
	// ClassProviderUnavailable marks a provider that is disabled or not
	// selectable.
	ClassProviderUnavailable Class = "provider_unavailable"
	// ClassTimeout marks a call that exceeded the provider's timeout.
	ClassTimeout Class = "timeout"
	// ClassUpstream marks a non-success status from the backend.
	ClassUpstream Class = "upstream_error"
	// ClassParse marks a response body whose shape was unrecognized.
	ClassParse Class = "parse_error"
	// ClassRateLimited marks a local throttle rejection or upstream 429.
	ClassRateLimited Class = "rate_limited"
	// ClassNoProvider marks a registry selection failure. Fatal.
	ClassNoProvider Class = "no_provider_available"
	// ClassExhausted marks a request that failed on every candidate. Fatal.
	ClassExhausted Class = "all_providers_exhausted"
)

// Error is a classified provider or routing failure.
type Error struct {
	Class    Class
	Provider string
	Status   int // upstream HTTP status, 0 when not applicable
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Class))
	if e.Provider != "" {
		fmt.Fprintf(&b, " [%s]", e.Provider)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same provider may be attempted again.
// Timeouts, throttling and transient upstream failures (5xx or transport
// errors with no status) qualify; permanent 4xx, parse and configuration
// failures do not and trigger fallback instead.
func (e *Error) Retryable() bool {
	switch e.Class {
	case ClassTimeout, ClassRateLimited:
		return true
	case ClassUpstream:
		return e.Status == 0 || e.Status >= 500
	default:
		return false
	}
}

// New builds a classified error.
func New(class Class, provider, message string) *Error {
	return &Error{Class: class, Provider: provider, Message: message}
}

// Wrap builds a classified error around an underlying cause.
func Wrap(class Class, provider string, err error) *Error {
	return &Error{Class: class, Provider: provider, Err: err}
}

// WithStatus attaches the upstream HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// ExhaustedError is returned when every candidate provider failed for one
// logical request. Failures preserves attempt order.
type ExhaustedError struct {
	Failures []*Error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%s: %d attempts failed: [%s]",
		ClassExhausted, len(e.Failures), strings.Join(parts, "; "))
}

// ClassOf extracts the class from an error, walking the wrap chain.
// Unclassified errors report ClassUpstream.
func ClassOf(err error) Class {
	var ee *ExhaustedError
	if errors.As(err, &ee) {
		return ClassExhausted
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Class
	}
	return ClassUpstream
}

// IsTerminal reports whether the error class ends the logical request
// immediately, with no retry or fallback.
func IsTerminal(err error) bool {
	c := ClassOf(err)
	return c == ClassNoProvider || c == ClassExhausted
}
