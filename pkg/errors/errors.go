// Package errors defines the error kinds shared by the store, index, query
// and ingestion layers, and maps them onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound       = errors.New("document not found")
	ErrInvalidQuery   = errors.New("invalid query")
	ErrDuplicateID    = errors.New("document id already exists")
	ErrStorageFailure = errors.New("storage failure")
	ErrInvalidInput   = errors.New("invalid input")
	ErrTimeout        = errors.New("operation timed out")
	ErrClosed         = errors.New("closed")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// InvalidQuery reports a query syntax problem at the given byte offset.
func InvalidQuery(pos int, format string, args ...any) *AppError {
	return Newf(ErrInvalidQuery, http.StatusBadRequest, "at offset %d: %s", pos, fmt.Sprintf(format, args...))
}

// NotFound reports an unknown document id, optionally at a specific version.
func NotFound(id string, version int64) *AppError {
	if version > 0 {
		return Newf(ErrNotFound, http.StatusNotFound, "document %q version %d", id, version)
	}
	return Newf(ErrNotFound, http.StatusNotFound, "document %q", id)
}

// StorageFailure wraps a durable-write failure so that both ErrStorageFailure
// and the underlying cause remain visible to errors.Is.
func StorageFailure(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, cause)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorageFailure), errors.Is(err, ErrTimeout), errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
