package errors

import (
	"fmt"
)

// NewTransportError creates an error for a failed SMS provider call. Provider
// 5xx, 429 and 408 responses are worth retrying; 4xx rejections are not.
func NewTransportError(operation string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeTransport, fmt.Sprintf("sms provider %s failed", operation)).
		WithContext("operation", operation).
		WithContext("status_code", statusCode)
	if statusCode >= 500 || statusCode == 429 || statusCode == 408 || statusCode == 0 {
		appErr.Retryable = true
	}
	return appErr
}

// NewClinicalStoreError creates an error for a failed clinical record store call
func NewClinicalStoreError(operation string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeClinicalStore, fmt.Sprintf("clinical store %s failed", operation)).
		WithContext("operation", operation).
		WithContext("status_code", statusCode)
	if statusCode >= 500 || statusCode == 429 || statusCode == 408 || statusCode == 0 {
		appErr.Retryable = true
	}
	return appErr
}

// NewDatabaseError creates a ledger error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("ledger %s failed", operation)).
		WithContext("operation", operation)
}

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field)
}

// NewIdentityUnresolvedError creates an error for a phone number with no
// matching clinical subject
func NewIdentityUnresolvedError(phone string) *AppError {
	return New(ErrCodeIdentityUnresolved, "no subject on file for phone number").
		WithContext("phone", phone)
}

// NewIdentityUnavailableError creates an error for an unreachable clinical
// store during identity resolution, distinguishable from a true miss so the
// caller quarantines instead of misattributing
func NewIdentityUnavailableError(err error) *AppError {
	return WrapRetryable(err, ErrCodeIdentityUnavailable, "identity lookup unavailable")
}

// NewStaleTransitionError creates an error for an out-of-order status webhook
func NewStaleTransitionError(sid string, current, attempted string) *AppError {
	return New(ErrCodeStaleTransition, "status update would regress delivery record").
		WithContext("provider_sid", sid).
		WithContext("current_status", current).
		WithContext("attempted_status", attempted)
}

// HTTPStatusCode maps error codes to HTTP status codes for API responses
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return 400
	case ErrCodeAuthentication:
		return 403
	case ErrCodeNotFound:
		return 404
	case ErrCodeTimeout:
		return 408
	case ErrCodeTransport, ErrCodeClinicalStore:
		if IsRetryable(err) {
			return 502
		}
		return 500
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return 503
	default:
		return 500
	}
}
