package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError indicates an error that might be resolved by retrying.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a RetryableError with a formatted message prefix.
func NewRetryable(err error, message string, args ...interface{}) error {
	allArgs := append(args, err)
	return &RetryableError{Err: fmt.Errorf(message+": %w", allArgs...)}
}

// FatalError indicates an error that is unlikely to be resolved by retrying.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err as a FatalError with a formatted message prefix.
func NewFatal(err error, message string, args ...interface{}) error {
	allArgs := append(args, err)
	return &FatalError{Err: fmt.Errorf(message+": %w", allArgs...)}
}

// --- Standard Error Definitions ---

var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates failure during data validation.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrGateway indicates the WhatsApp gateway rejected or failed a call.
	ErrGateway = errors.New("gateway error")
	// ErrNATS indicates a general NATS communication error.
	ErrNATS = errors.New("nats communication error")
	// ErrConflict indicates a general conflict state (e.g., optimistic locking failure).
	ErrConflict = errors.New("resource conflict")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrBadRequest indicates a malformed or invalid request from the caller.
	ErrBadRequest = errors.New("bad request")
	// ErrRateLimited indicates an operation was rate limited.
	ErrRateLimited = errors.New("rate limited")
)

// Line pool contention and availability.
var (
	// ErrCapacityExceeded means the line already holds the maximum number of operators.
	ErrCapacityExceeded = fmt.Errorf("%w: line capacity exceeded", ErrConflict)
	// ErrAlreadyBound means the operator already holds a binding (on this or another line).
	ErrAlreadyBound = fmt.Errorf("%w: operator already bound", ErrConflict)
	// ErrLineUnavailable means the line exists but is not active.
	ErrLineUnavailable = errors.New("line not active")
	// ErrNoLineAvailable means every candidate line was full, excluded, or inactive.
	ErrNoLineAvailable = errors.New("no line available")
)

// --- Helper functions for checking ---

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal checks if the error is a FatalError or wraps one.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if the error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDatabaseError checks if the error is or wraps ErrDatabase.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsGatewayError checks if the error is or wraps ErrGateway.
func IsGatewayError(err error) bool {
	return errors.Is(err, ErrGateway)
}

// IsContention reports whether err is a lost race for a line slot, which callers
// resolve by moving on to the next candidate.
func IsContention(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrAlreadyBound)
}
