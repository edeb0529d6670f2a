// Package errors provides a classified error taxonomy shared by all ragmesh
// services. Gate and pipeline failures carry a class that the HTTP layer maps
// to status codes and retry headers.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass represents the classification of an error
type ErrorClass int

const (
	// ClassUnknown indicates an unclassified error
	ClassUnknown ErrorClass = iota
	// ClassTransient indicates a temporary error that may be retried
	ClassTransient
	// ClassPermanent indicates a permanent error that should not be retried
	ClassPermanent
	// ClassRateLimited indicates the per-tenant rate limit was hit
	ClassRateLimited
	// ClassQuotaExceeded indicates the tenant's daily quota was exhausted
	ClassQuotaExceeded
	// ClassTimeout indicates a timeout error
	ClassTimeout
	// ClassCircuitBreaker indicates the circuit breaker is open
	ClassCircuitBreaker
	// ClassOverloaded indicates the load shedder refused admission
	ClassOverloaded
	// ClassValidation indicates an input validation error
	ClassValidation
	// ClassNotFound indicates resource not found
	ClassNotFound
	// ClassConflict indicates a conflict (e.g. concurrent modification)
	ClassConflict
)

// String returns the class name for logging
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassRateLimited:
		return "rate_limited"
	case ClassQuotaExceeded:
		return "quota_exceeded"
	case ClassTimeout:
		return "timeout"
	case ClassCircuitBreaker:
		return "circuit_breaker"
	case ClassOverloaded:
		return "overloaded"
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ClassifiedError is an error with classification and structured details
type ClassifiedError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Class   ErrorClass             `json:"class"`
	Details map[string]interface{} `json:"details,omitempty"`

	cause error
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// WithDetail attaches a structured detail and returns the error for chaining
func (e *ClassifiedError) WithDetail(key string, value interface{}) *ClassifiedError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new classified error
func New(code string, message string, class ErrorClass) *ClassifiedError {
	return &ClassifiedError{
		Code:    code,
		Message: message,
		Class:   class,
	}
}

// Newf creates a new classified error with a formatted message
func Newf(code string, class ErrorClass, format string, args ...interface{}) *ClassifiedError {
	return New(code, fmt.Sprintf(format, args...), class)
}

// Wrap wraps an existing error with classification. Returns nil for nil input.
func Wrap(err error, code string, message string, class ErrorClass) *ClassifiedError {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Code:    code,
		Message: message,
		Class:   class,
		cause:   err,
	}
}

// ClassOf extracts the class of an error, walking the wrap chain.
// Unclassified errors report ClassUnknown.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassUnknown
}

// ClassifyHTTPStatus classifies an upstream HTTP status code
func ClassifyHTTPStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == 400:
		return ClassValidation
	case statusCode == 401 || statusCode == 403:
		return ClassPermanent
	case statusCode == 404:
		return ClassNotFound
	case statusCode == 409:
		return ClassConflict
	case statusCode == 429:
		return ClassTransient // upstream throttling is retryable for us
	case statusCode == 504:
		return ClassTimeout
	case statusCode >= 500 && statusCode < 600:
		return ClassTransient
	default:
		return ClassUnknown
	}
}

// IsTransient returns true if the error is transient and may be retried
func IsTransient(err error) bool {
	class := ClassOf(err)
	return class == ClassTransient || class == ClassTimeout
}

// IsRateLimited returns true if the error is due to rate limiting
func IsRateLimited(err error) bool {
	return ClassOf(err) == ClassRateLimited
}

// IsQuotaExceeded returns true if the error is due to an exhausted daily quota
func IsQuotaExceeded(err error) bool {
	return ClassOf(err) == ClassQuotaExceeded
}

// IsCircuitOpen returns true if the error is due to an open circuit breaker
func IsCircuitOpen(err error) bool {
	return ClassOf(err) == ClassCircuitBreaker
}

// IsOverloaded returns true if the error is due to load shedding
func IsOverloaded(err error) bool {
	return ClassOf(err) == ClassOverloaded
}

// IsValidation returns true if the error is a validation error
func IsValidation(err error) bool {
	return ClassOf(err) == ClassValidation
}

// IsNotFound returns true if the error is a not-found error
func IsNotFound(err error) bool {
	return ClassOf(err) == ClassNotFound
}

// RateLimitError is returned when a tenant exceeds its request rate.
// RetryAfter tells the caller when the bucket will hold a full token again.
type RateLimitError struct {
	TenantID   string
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for tenant %s, retry after %s", e.TenantID, e.RetryAfter)
}

// Classified converts the rate limit error into the shared taxonomy
func (e *RateLimitError) Classified() *ClassifiedError {
	return Wrap(e, "RATE_LIMITED", "rate limit exceeded", ClassRateLimited).
		WithDetail("tenant_id", e.TenantID).
		WithDetail("retry_after_seconds", int(e.RetryAfter.Seconds()))
}

// QuotaError is returned when a tenant exceeds its daily token or cost quota
type QuotaError struct {
	TenantID string
	Reason   string
	ResetAt  time.Time
}

// Error implements the error interface
func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily quota exceeded for tenant %s (%s), resets at %s",
		e.TenantID, e.Reason, e.ResetAt.Format(time.RFC3339))
}

// Classified converts the quota error into the shared taxonomy
func (e *QuotaError) Classified() *ClassifiedError {
	return Wrap(e, "QUOTA_EXCEEDED", "daily quota exceeded", ClassQuotaExceeded).
		WithDetail("tenant_id", e.TenantID).
		WithDetail("reason", e.Reason).
		WithDetail("reset_at", e.ResetAt.UTC().Format(time.RFC3339))
}

// RetryAfter extracts the retry delay from a rate limit error chain.
// Returns zero when the error carries no retry hint.
func RetryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// QuotaResetAt extracts the quota reset time from an error chain
func QuotaResetAt(err error) (time.Time, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe.ResetAt, true
	}
	return time.Time{}, false
}
