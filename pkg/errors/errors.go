package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
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

// StatusCode maps the error code to an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict, ErrRecordLocked:
		return http.StatusConflict
	case ErrValidation, ErrInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Public reports whether the message may be shown to API clients as is.
func (e *AppError) Public() bool {
	return e.Code != ErrInternal && e.Code != ErrRecordLocked
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrValidation
	ErrRecordLocked
	ErrInsufficientFunds
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewConflict(message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
		Err:     err,
	}
}

func NewValidation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

// NewRecordLocked is returned for any write that targets a locked ledger entry.
func NewRecordLocked(resource string, id fmt.Stringer) *AppError {
	return &AppError{
		Code:    ErrRecordLocked,
		Message: fmt.Sprintf("%s %s is locked", resource, id),
	}
}

func NewInsufficientFunds(requested, available int64) *AppError {
	return &AppError{
		Code:    ErrInsufficientFunds,
		Message: fmt.Sprintf("payout amount %d exceeds pending amount %d", requested, available),
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

// As extracts the AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func hasCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func IsNotFound(err error) bool          { return hasCode(err, ErrNotFound) }
func IsConflict(err error) bool          { return hasCode(err, ErrConflict) }
func IsValidation(err error) bool        { return hasCode(err, ErrValidation) }
func IsRecordLocked(err error) bool      { return hasCode(err, ErrRecordLocked) }
func IsInsufficientFunds(err error) bool { return hasCode(err, ErrInsufficientFunds) }
