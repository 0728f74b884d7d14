// Package shared contains the domain types, errors, and events used across
// every domain package. It has no dependencies outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, matched with errors.Is. Concrete domain errors carry
// one of these as their Kind so callers can branch on category without
// knowing the specific failure.
var (
	ErrNotFound        = errors.New("entity not found")
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrInvalidState    = errors.New("invalid state")

	// ErrInputUnavailable means a required input source is missing. A
	// tracking run cannot produce a trustworthy verdict without its
	// roster and level directory, so a missing input aborts the run
	// instead of degrading it.
	ErrInputUnavailable = errors.New("required input unavailable")

	// ErrExternalService covers failures of the Discord API and other
	// collaborators outside the process.
	ErrExternalService = errors.New("external service error")

	// ErrRunInProgress means the tracking-run lock is held elsewhere.
	ErrRunInProgress = errors.New("tracking run already in progress")
)

// DomainError carries a failure with its domain context: which domain and
// operation failed, the base Kind for errors.Is, and an optional cause.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches against both the Kind and the wrapped cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError creates a domain error without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError creates a domain error around an underlying cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Named domain failures the packages raise repeatedly.
var (
	// Member domain
	ErrEmptyIdentity     = NewDomainError("member", "Validate", ErrEmptyValue, "identity cannot be empty")
	ErrRosterUnavailable = NewDomainError("member", "LoadRoster", ErrInputUnavailable, "guild roster unavailable")

	// Session domain
	ErrUnknownMarker     = NewDomainError("session", "Ingest", ErrInvalidInput, "unrecognized event marker")
	ErrMalformedLogEntry = NewDomainError("session", "Ingest", ErrInvalidFormat, "malformed log entry")
	ErrEmptyLog          = NewDomainError("session", "Reconstruct", ErrInvalidInput, "event log has no entries")
	ErrLogNotOrdered     = NewDomainError("session", "Reconstruct", ErrInvalidState, "event log not in chronological order")

	// Activity domain
	ErrRunNotFound = NewDomainError("activity", "FindRun", ErrNotFound, "tracking run not found")
)

// IsNotFound reports whether err means a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is any flavor of bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsInputUnavailable reports whether err means a required input file or
// source is missing. These abort a tracking run.
func IsInputUnavailable(err error) bool {
	return errors.Is(err, ErrInputUnavailable)
}
