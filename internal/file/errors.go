package file

import (
	"fmt"

	"github.com/abduss/bucketsvc/internal/apperr"
)

var (
	// ErrFileNotFound signals that the file record could not be located.
	ErrFileNotFound = fmt.Errorf("file not found: %w", apperr.ErrNotFound)
	// ErrFileExists is returned when the bucket already holds a file with that name.
	ErrFileExists = fmt.Errorf("file already exists: %w", apperr.ErrAlreadyExists)
	// ErrInvalidFilename is returned for names that cannot be a blob path segment.
	ErrInvalidFilename = fmt.Errorf("invalid filename: %w", apperr.ErrInvalidName)
	// ErrFileTooLarge signals that the upload exceeds the configured limit.
	ErrFileTooLarge = fmt.Errorf("file too large: %w", apperr.ErrTooLarge)
	// ErrBlobMissing means a file record exists but its bytes are gone.
	ErrBlobMissing = fmt.Errorf("file content missing: %w", apperr.ErrNotFound)
)
