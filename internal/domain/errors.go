package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrGeocodeFailed = errors.New("geocode failed")

	// ErrStaleSession marks a merge for a token that is no longer active.
	// It is never surfaced past the orchestrator.
	ErrStaleSession = errors.New("stale session ignored")
	ErrSuperseded   = errors.New("session superseded")
	ErrEmptyAddress = errors.New("address is required")
)

type FetchErrorKind string

const (
	FetchTimeout     FetchErrorKind = "timeout"
	FetchUnavailable FetchErrorKind = "unavailable"
	FetchMalformed   FetchErrorKind = "malformed"
	FetchCanceled    FetchErrorKind = "canceled"
	FetchPanic       FetchErrorKind = "panic"
)

// FetchError is the settled failure of one source within a session.
type FetchError struct {
	Source string
	Kind   FetchErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Malformed wraps err as a malformed-response failure. Adapters use it so
// the orchestrator can classify the failure without string matching.
func Malformed(err error) error { return &malformedError{err} }

type malformedError struct{ err error }

func (e *malformedError) Error() string { return "malformed response: " + e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// IsMalformed reports whether err was produced by Malformed.
func IsMalformed(err error) bool {
	var m *malformedError
	return errors.As(err, &m)
}
