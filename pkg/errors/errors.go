// Package errors defines the address service's error vocabulary: sentinels
// for each outcome class, AppError for rendered failures, and the transport
// test that drives tier failover.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrStorage        = errors.New("storage failure")
)

// Class is the HTTP rendering of a sentinel.
type Class struct {
	Status int
	Code   string
}

var internalClass = Class{http.StatusInternalServerError, "INTERNAL_ERROR"}

// classes is checked in order. The first sentinel err wraps wins.
var classes = []struct {
	sentinel error
	Class
}{
	{ErrNotFound, Class{http.StatusNotFound, "NOT_FOUND"}},
	{ErrInvalidInput, Class{http.StatusBadRequest, "INVALID_INPUT"}},
	{ErrForbidden, Class{http.StatusForbidden, "FORBIDDEN"}},
	{ErrConflict, Class{http.StatusConflict, "CONFLICT"}},
	{ErrStorage, Class{http.StatusServiceUnavailable, "STORAGE_FAILURE"}},
	{ErrServiceUnavail, Class{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"}},
}

// Classify returns the class of err. An AppError's own status and code
// take precedence over the sentinels it wraps.
func Classify(err error) Class {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return Class{appErr.Status, appErr.Code}
	}
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			return c.Class
		}
	}
	return internalClass
}

// HTTPStatus is Classify(err).Status.
func HTTPStatus(err error) int {
	return Classify(err).Status
}

// AppError is an error with a client-safe message. Err keeps the cause for
// logs and errors.Is; it is never rendered.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// newError builds an AppError rendered as sentinel's class. A non-nil cause
// is joined under the sentinel.
func newError(sentinel error, message string, cause error) *AppError {
	c := Classify(sentinel)
	wrapped := sentinel
	if cause != nil {
		wrapped = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &AppError{Code: c.Code, Message: message, Status: c.Status, Err: wrapped}
}

// NotFound reports a missing record, or one the caller does not own.
func NotFound(resource, id string) *AppError {
	return newError(ErrNotFound, fmt.Sprintf("%s with id %s not found", resource, id), nil)
}

func InvalidInput(message string) *AppError {
	return newError(ErrInvalidInput, message, nil)
}

func Forbidden(message string) *AppError {
	return newError(ErrForbidden, message, nil)
}

// Rejected reports a write the backend received and refused, such as a
// constraint violation. The backend answered, so this is not a transport
// error and must not trigger failover.
func Rejected(backend string, cause error) *AppError {
	return newError(ErrConflict, backend+" rejected the change", cause)
}

// Unavailable reports a backend that could not be reached or answered with
// something unusable. The cause stays visible to errors.Is and errors.As.
func Unavailable(backend string, cause error) *AppError {
	return newError(ErrServiceUnavail, backend+" is unavailable", cause)
}

// IsTransport reports whether err is an availability failure of a backend
// rather than a domain outcome. Cancellation by the caller never is.
func IsTransport(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrServiceUnavail)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
