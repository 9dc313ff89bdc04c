package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrExpired
	ErrAlreadyConsumed
	ErrInvalidStateTransition
	ErrValidationFailed
	ErrCorrupt
	ErrConcurrencyConflict
	ErrUnauthorized
	ErrInternal
)

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func Expired(message string, err error) *AppError {
	return &AppError{
		Code:    ErrExpired,
		Message: message,
		Err:     err,
	}
}

func AlreadyConsumed(message string) *AppError {
	return &AppError{
		Code:    ErrAlreadyConsumed,
		Message: message,
	}
}

func InvalidStateTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidStateTransition,
		Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
	}
}

func ValidationFailed(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidationFailed,
		Message: message,
		Err:     err,
	}
}

func Corrupt(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCorrupt,
		Message: message,
		Err:     err,
	}
}

func ConcurrencyConflict(resource string) *AppError {
	return &AppError{
		Code:    ErrConcurrencyConflict,
		Message: fmt.Sprintf("%s was modified concurrently", resource),
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// KindOf returns the error code carried by err, or ErrInternal
// when err is not an AppError.
func KindOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given error code.
func Is(err error, code ErrorCode) bool {
	return KindOf(err) == code
}
