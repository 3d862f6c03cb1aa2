// Package errors provides structured error handling for Fathom.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and storage errors
//   - 3XX: Embedding and model errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIndex indicates lexical or vector index errors.
	CategoryIndex Category = "INDEX"
	// CategoryEmbedding indicates embedding generation errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Index errors (200-299)
	ErrCodeIndexClosed     = "ERR_201_INDEX_CLOSED"
	ErrCodeIndexFailed     = "ERR_202_INDEX_FAILED"
	ErrCodeDocumentMissing = "ERR_203_DOCUMENT_MISSING"

	// Embedding errors (300-399)
	ErrCodeEmbeddingFailed  = "ERR_301_EMBEDDING_FAILED"
	ErrCodeEmbedderClosed   = "ERR_302_EMBEDDER_CLOSED"
	ErrCodeModelUnavailable = "ERR_303_MODEL_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIndex
	case '3':
		return CategoryEmbedding
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryValidation:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableCodes are codes whose operations may succeed on retry.
var retryableCodes = map[string]struct{}{
	ErrCodeEmbeddingFailed:  {},
	ErrCodeModelUnavailable: {},
	ErrCodeSearchFailed:     {},
}

// isRetryableCode reports whether the code's operation may be retried.
func isRetryableCode(code string) bool {
	_, ok := retryableCodes[code]
	return ok
}
