package apperrors

import "fmt"

// ErrorCode represents different error types
type ErrorCode string

const (
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeNoAddress           ErrorCode = "NO_ADDRESS"
	ErrCodePreferencesNotFound ErrorCode = "PREFERENCES_NOT_FOUND"
	ErrCodeRenderFailed        ErrorCode = "RENDER_FAILED"
	ErrCodeProvider            ErrorCode = "PROVIDER_ERROR"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeRetryable           ErrorCode = "RETRYABLE_ERROR"
	ErrCodePermanentFailure    ErrorCode = "PERMANENT_FAILURE"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// CodeOf returns the error code of err, or INTERNAL_ERROR for plain errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// NewInvalidInput creates a new invalid input error
func NewInvalidInput(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidInput,
		Message: message,
	}
}

// NewNoAddress creates an error for a recipient without a resolvable address
func NewNoAddress(message string) *AppError {
	return &AppError{
		Code:    ErrCodeNoAddress,
		Message: message,
	}
}

// NewRenderFailed creates a template rendering error
func NewRenderFailed(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeRenderFailed,
		Message: message,
		Err:     err,
	}
}

// NewProviderError creates a transport provider error
func NewProviderError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeProvider,
		Message: message,
		Err:     err,
	}
}

// NewProviderUnavailable creates an error for a provider behind an open breaker
func NewProviderUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeProviderUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewRetryableError creates a retryable error
func NewRetryableError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeRetryable,
		Message: message,
		Err:     err,
	}
}

// NewPermanentFailure creates a permanent failure error
func NewPermanentFailure(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodePermanentFailure,
		Message: message,
		Err:     err,
	}
}

// NewInternal creates a new internal error
func NewInternal(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
	}
}
