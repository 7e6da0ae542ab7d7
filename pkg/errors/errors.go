package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timeout")
	ErrUnavailable  = errors.New("service unavailable")
)

// Market data errors

var (
	// ErrInvalidBar indicates an OHLCV bar failed data-quality checks
	ErrInvalidBar = errors.New("invalid bar")

	// ErrInvalidTimeframe indicates an unknown timeframe identifier
	ErrInvalidTimeframe = errors.New("invalid timeframe")

	// ErrEmptyBucket indicates a bucket was folded without any source bars
	ErrEmptyBucket = errors.New("empty bucket")
)

// Pipeline errors

var (
	// ErrIncompleteSeries indicates the full historical series could not be loaded
	ErrIncompleteSeries = errors.New("incomplete bar series")

	// ErrLockNotAcquired indicates another recomputation holds the security lock
	ErrLockNotAcquired = errors.New("recomputation already in progress")

	// ErrRunAborted indicates a labeling run was cancelled before completion
	ErrRunAborted = errors.New("labeling run aborted")
)

// Kind classifies err for metric labels and transport status codes.
// nil is "ok".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case Is(err, ErrLockNotAcquired):
		return "busy"
	case Is(err, ErrNotFound):
		return "not_found"
	case Is(err, ErrInvalidInput), Is(err, ErrInvalidTimeframe), Is(err, ErrInvalidBar):
		return "invalid"
	case Is(err, ErrIncompleteSeries):
		return "incomplete"
	case Is(err, ErrRunAborted), Is(err, context.Canceled):
		return "aborted"
	case Is(err, ErrTimeout), Is(err, context.DeadlineExceeded):
		return "timeout"
	case Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

// ValidationError represents a validation error with field-specific details.
// Sentinel, when set, is exposed through Unwrap so callers can match it with Is.
type ValidationError struct {
	Field    string
	Message  string
	Value    interface{}
	Sentinel error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

func (e *ValidationError) Unwrap() error {
	if e.Sentinel != nil {
		return e.Sentinel
	}
	return ErrInvalidInput
}

// NewValidationError creates a validation error matching ErrInvalidInput
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// MultiError collects independent failures, e.g. one per bucket or timeframe
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is / errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add appends err unless it is nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

func (m *MultiError) Len() int {
	return len(m.Errors)
}

// ToError returns m, or nil when nothing was collected
func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context. nil stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context. nil stays nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
