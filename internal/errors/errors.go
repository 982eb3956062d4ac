package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fund-analytics/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed inputs from collaborators
	CategoryValidation ErrorCategory = "validation"
	// CategoryOversell represents a SELL that would drive shares negative
	CategoryOversell ErrorCategory = "oversell"
	// CategoryMissingPrereq represents missing NAV or prior snapshot data
	CategoryMissingPrereq ErrorCategory = "missing_prerequisite"
	// CategoryDatabase represents transient database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache / lock errors
	CategoryCache ErrorCategory = "cache"
	// CategoryNumeric represents a degenerate metric input; the metric is stored as NULL
	CategoryNumeric ErrorCategory = "numeric"
	// CategoryAssertion represents an invariant violation
	CategoryAssertion ErrorCategory = "assertion"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategorySystem represents unexpected system errors
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Validation Errors

// NewValidationError creates a validation error for a rejected input field
func NewValidationError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_INPUT",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewNotTradingDayError creates a validation error for a non-trading target day
func NewNotTradingDayError(day time.Time) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "NOT_TRADING_DAY",
		Message:    fmt.Sprintf("%s is not a trading day", types.FormatDay(day)),
		Details: map[string]interface{}{
			"date": types.FormatDay(day),
		},
	}
}

// Domain Errors

// NewOversellError creates an oversell error for a trade
func NewOversellError(userID, holdingID, tradeID int64, available, requested string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryOversell,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "OVERSELL",
		Message:    fmt.Sprintf("trade %d sells %s shares but only %s are held", tradeID, requested, available),
		Details: map[string]interface{}{
			"userId":    userID,
			"holdingId": holdingID,
			"tradeId":   tradeID,
			"available": available,
			"requested": requested,
		},
	}
}

// NewMissingPrereqError creates a missing prerequisite error
func NewMissingPrereqError(what string, userID, holdingID int64, day time.Time) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMissingPrereq,
		StatusCode: http.StatusConflict,
		Code:       "MISSING_PREREQUISITE",
		Message:    fmt.Sprintf("missing %s for holding %d on %s", what, holdingID, types.FormatDay(day)),
		Details: map[string]interface{}{
			"what":      what,
			"userId":    userID,
			"holdingId": holdingID,
			"date":      types.FormatDay(day),
		},
	}
}

// NewAssertionError creates an invariant violation error
func NewAssertionError(invariant string, detail string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAssertion,
		StatusCode: http.StatusInternalServerError,
		Code:       "ASSERTION_FAILED",
		Message:    fmt.Sprintf("invariant %s violated: %s", invariant, detail),
		Details: map[string]interface{}{
			"invariant": invariant,
		},
	}
}

// NewNumericError records a metric that could not be computed. It is
// reported alongside a result, never returned from a task.
func NewNumericError(metric string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNumeric,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "NUMERIC_DEGENERACY",
		Message:    fmt.Sprintf("%s left empty: %s", metric, reason),
		Details: map[string]interface{}{
			"metric": metric,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewLockBusyError creates an error for a lock held by another worker
func NewLockBusyError(key string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "LOCK_BUSY",
		Message:    fmt.Sprintf("lock %s is held by another worker", key),
		Details: map[string]interface{}{
			"key": key,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	// If already categorized (possibly wrapped), return as-is
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case "INVALID_INPUT", "NOT_TRADING_DAY":
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "NOT_FOUND", "TASK_NOT_FOUND":
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Is reports whether err carries the given category
func Is(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Category == category
}

// IsOversell reports whether err is an oversell error
func IsOversell(err error) bool {
	return Is(err, CategoryOversell)
}

// IsMissingPrereq reports whether err is a missing prerequisite error
func IsMissingPrereq(err error) bool {
	return Is(err, CategoryMissingPrereq)
}

// IsNumeric reports whether err describes a degenerate metric
func IsNumeric(err error) bool {
	return Is(err, CategoryNumeric)
}

// IsFatal determines if an error must not be retried.
// Retrying cannot fix bad inputs, an oversell or a broken invariant.
func IsFatal(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	switch catErr.Category {
	case CategoryValidation, CategoryOversell, CategoryAssertion, CategoryNotFound:
		return true
	default:
		return false
	}
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsFatal(err)
}
