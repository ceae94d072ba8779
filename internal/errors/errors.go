// Package errors provides the error taxonomy and HTTP status mapping for qrcore.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindRateLimited
	KindNotFound
	KindIdempotencyConflict
	KindDuplicate
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
	ErrorCodeUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	ErrorCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrorCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrorCodeRateLimited         ErrorCode = "RATE_LIMITED"
	ErrorCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrorCodeIdempotencyConflict ErrorCode = "IDEMPOTENCY_KEY_CONFLICT"
	ErrorCodeAlreadyExists       ErrorCode = "ALREADY_EXISTS"
)

// internalMessage is the only message an internal failure ever exposes.
const internalMessage = "internal server error"

// Error is an error carrying its Kind and a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	return StatusOf(e.Kind)
}

// Code returns the application error code for the error.
func (e *Error) Code() ErrorCode {
	return CodeOf(e.Kind)
}

// PublicMessage returns the message safe to send to clients.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return internalMessage
	}
	return e.Message
}

// StatusOf converts a Kind to an HTTP status code.
func StatusOf(k Kind) int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindIdempotencyConflict, KindDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf converts a Kind to an application error code.
func CodeOf(k Kind) ErrorCode {
	switch k {
	case KindAuthentication:
		return ErrorCodeUnauthenticated
	case KindAuthorization:
		return ErrorCodeForbidden
	case KindValidation:
		return ErrorCodeInvalidRequest
	case KindRateLimited:
		return ErrorCodeRateLimited
	case KindNotFound:
		return ErrorCodeNotFound
	case KindIdempotencyConflict:
		return ErrorCodeIdempotencyConflict
	case KindDuplicate:
		return ErrorCodeAlreadyExists
	default:
		return ErrorCodeInternalError
	}
}

// From converts any error to an *Error. Unclassified errors become internal failures.
func From(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: internalMessage, Err: err}
}

// Unauthenticated returns an authentication failure.
func Unauthenticated(msg string, err error) *Error {
	return &Error{Kind: KindAuthentication, Message: msg, Err: err}
}

// Forbidden returns an authorization failure.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

// Validation returns a validation failure.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// RateLimited returns a throttling failure.
func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Message: msg}
}

// NotFound returns a not-found failure for the named entity.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// IdempotencyConflict returns the error for a key reused with a different payload.
func IdempotencyConflict() *Error {
	return &Error{Kind: KindIdempotencyConflict, Message: "idempotency key was already used with a different request payload"}
}

// Duplicate returns a uniqueness failure.
func Duplicate(msg string, err error) *Error {
	return &Error{Kind: KindDuplicate, Message: msg, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: internalMessage, Err: err}
}
