// Package apperr defines the error kinds every storage operation reports.
//
// Domain packages declare their own sentinel errors wrapping one of these
// kinds, so callers can match either the precise error or its kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidName indicates a bucket or file name failed validation.
	ErrInvalidName = errors.New("invalid name")
	// ErrAlreadyExists indicates a bucket or file name collision.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound indicates a missing bucket, file, or blob.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded indicates the owner cannot absorb the upload.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrTooLarge indicates a single payload exceeds the upload limit.
	ErrTooLarge = errors.New("payload too large")
	// ErrStorage indicates an underlying disk or database failure.
	ErrStorage = errors.New("storage error")
)

// Storage wraps err as a storage failure of the named operation.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Kind returns the kind err belongs to, or ErrStorage for unclassified errors.
// An explicit storage wrap takes precedence over any kind in its cause.
func Kind(err error) error {
	for _, kind := range []error{ErrStorage, ErrInvalidName, ErrAlreadyExists, ErrNotFound, ErrQuotaExceeded, ErrTooLarge} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrStorage
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrInvalidName:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyExists:
		return http.StatusConflict
	case ErrQuotaExceeded, ErrTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
