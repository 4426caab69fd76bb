// Package shared contains the value objects, errors and events shared by the
// growth and risk analytics domains. It has no external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, matched with errors.Is().
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Input errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Engine errors
	ErrConfiguration = errors.New("configuration error")
	ErrComputation   = errors.New("computation error")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")

	// Access errors
	ErrUnauthorized = errors.New("unauthorized")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError carries the domain, operation and kind of a failure.
type DomainError struct {
	Domain  string // "growth", "risk", "analysis"
	Op      string // operation that failed, e.g. "NewGradingScale"
	Kind    error  // base kind for errors.Is()
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Growth domain errors
var (
	ErrEmptyGradingScale       = NewDomainError("growth", "NewGradingScale", ErrConfiguration, "grading scale is empty")
	ErrUnorderedGradingScale   = NewDomainError("growth", "NewGradingScale", ErrConfiguration, "grading scale must be strictly descending by min_score")
	ErrEmptyKnowledgeScale     = NewDomainError("growth", "NewKnowledgeScale", ErrConfiguration, "knowledge-point scale is empty")
	ErrUnorderedKnowledgeScale = NewDomainError("growth", "NewKnowledgeScale", ErrConfiguration, "knowledge-point scale must be strictly descending by threshold")
	ErrScoreOutOfRange         = NewDomainError("growth", "ParseScore", ErrValueOutOfRange, "score must be between 0 and 100")
	ErrEmptyCohort             = NewDomainError("growth", "ComputeCohortStats", ErrInvalidInput, "cohort has no present scores")
	ErrNonFiniteMetric         = NewDomainError("growth", "Verify", ErrComputation, "metric is NaN or infinite")
)

// Risk domain errors
var (
	ErrInvalidScope    = NewDomainError("risk", "ParseScope", ErrInvalidInput, "unknown analysis scope")
	ErrInvalidSeverity = NewDomainError("risk", "ParseSeverity", ErrInvalidInput, "unknown severity")
)

// Analysis run errors
var (
	ErrRunNotFound    = NewDomainError("analysis", "FindRun", ErrNotFound, "analysis run not found")
	ErrResultNotFound = NewDomainError("analysis", "FindResult", ErrNotFound, "analysis result not found")
	ErrInvalidRange   = NewDomainError("analysis", "NewTimeRange", ErrInvalidInput, "'from' must not be after 'to'")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is caused by bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsConfiguration checks if the error is an invalid grading/knowledge configuration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsComputation checks if the error signals a defect in the engine's arithmetic.
func IsComputation(err error) bool {
	return errors.Is(err, ErrComputation)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
