package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of err if it is (or wraps) an AppError,
// or ErrCodeInternal otherwise.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err is (or wraps) an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Error codes
const (
	ErrCodeInvalidOperation      = "INVALID_OPERATION"
	ErrCodeUnknownSession        = "UNKNOWN_SESSION"
	ErrCodePathViolation         = "PATH_VIOLATION"
	ErrCodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	ErrCodeEngineUnavailable     = "ENGINE_UNAVAILABLE"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeMalformedEngineOutput = "MALFORMED_ENGINE_OUTPUT"
	ErrCodeEngineReportedError   = "ENGINE_REPORTED_ERROR"
	ErrCodeSessionCreate         = "SESSION_CREATE_FAILED"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeFileOperation         = "FILE_OPERATION_FAILED"
	ErrCodeConfigInvalid         = "CONFIG_INVALID"
	ErrCodeInternal              = "INTERNAL_ERROR"
)
