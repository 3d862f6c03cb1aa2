package errors

import (
	"errors"
	"fmt"
)

// FathomError is the structured error type for Fathom. It carries the
// context needed for error handling, logging, and user presentation.
type FathomError struct {
	// Code is the unique error code (e.g., "ERR_202_INDEX_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Index, Embedding, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *FathomError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FathomError) Unwrap() error {
	return e.Cause
}

// Is matches FathomErrors by code, enabling errors.Is.
func (e *FathomError) Is(target error) bool {
	if t, ok := target.(*FathomError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for
// method chaining.
func (e *FathomError) WithDetail(key, value string) *FathomError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a FathomError with the given code and message. Category,
// severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *FathomError {
	return &FathomError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FathomError from an existing error. The error's message
// becomes the FathomError message.
func Wrap(code string, err error) *FathomError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// IndexError creates an index-related error.
func IndexError(message string, cause error) *FathomError {
	return New(ErrCodeIndexFailed, message, cause)
}

// EmbeddingError creates an embedding-related error. Embedding errors are
// retryable.
func EmbeddingError(message string, cause error) *FathomError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *FathomError {
	return New(ErrCodeInvalidInput, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *FathomError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IsRetryable reports whether err (or any error in its chain) is a
// retryable FathomError.
func IsRetryable(err error) bool {
	var fe *FathomError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}
