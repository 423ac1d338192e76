package bucket

import (
	"fmt"

	"github.com/abduss/bucketsvc/internal/apperr"
)

var (
	// ErrBucketNotFound indicates the requested bucket does not exist for the user.
	ErrBucketNotFound = fmt.Errorf("bucket not found: %w", apperr.ErrNotFound)
	// ErrBucketNameExists is returned when a user attempts to create a duplicate bucket name.
	ErrBucketNameExists = fmt.Errorf("bucket name already exists: %w", apperr.ErrAlreadyExists)
	// ErrInvalidBucketName is returned for names outside [A-Za-z0-9_-]{1,255}.
	ErrInvalidBucketName = fmt.Errorf("invalid bucket name: %w", apperr.ErrInvalidName)
)
