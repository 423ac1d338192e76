// Package blob stores raw file bytes keyed by a location string.
//
// A location is "{owner_id}/{bucket_name}/{filename}". The store knows
// nothing about metadata; keeping blobs and file records consistent is the
// job of the bucket and file services.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/google/uuid"
)

const maxSegmentLength = 255

var (
	// ErrExists is returned by Write when the location is already occupied.
	ErrExists = fmt.Errorf("blob already exists: %w", apperr.ErrAlreadyExists)
	// ErrNotFound is returned by Open when no blob is stored at the location.
	ErrNotFound = fmt.Errorf("blob not found: %w", apperr.ErrNotFound)
	// ErrInvalidLocation is returned for locations escaping the store root.
	ErrInvalidLocation = fmt.Errorf("invalid blob location: %w", apperr.ErrInvalidName)
)

// Entry describes a stored blob.
type Entry struct {
	Location string
	Size     int64
	ModTime  time.Time
}

// Store is the byte-level persistence contract.
type Store interface {
	// Write publishes data at location. A failed write leaves nothing behind.
	Write(ctx context.Context, location string, data []byte) error
	// Open returns a reader for the blob and its size.
	Open(ctx context.Context, location string) (io.ReadCloser, int64, error)
	// Delete removes the blob; absent blobs are not an error.
	Delete(ctx context.Context, location string) error
	Exists(ctx context.Context, location string) (bool, error)
	// MakeDir prepares the namespace for a bucket prefix.
	MakeDir(ctx context.Context, prefix string) error
	// RemoveAll deletes every blob under prefix; an absent prefix is not an error.
	RemoveAll(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	Ping(ctx context.Context) error
}

// BucketPrefix returns the namespace holding every blob of a bucket.
func BucketPrefix(ownerID uuid.UUID, bucketName string) string {
	return path.Join(ownerID.String(), bucketName)
}

// Location returns the deterministic location of a file.
func Location(ownerID uuid.UUID, bucketName, filename string) string {
	return path.Join(ownerID.String(), bucketName, filename)
}

// ValidateSegment reports whether name can be used as one path segment of a location.
func ValidateSegment(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.New("name must not be empty or a relative path element")
	case len(name) > maxSegmentLength:
		return fmt.Errorf("name exceeds %d bytes", maxSegmentLength)
	case strings.ContainsAny(name, "/\\\x00"):
		return errors.New("name must not contain path separators")
	}
	return nil
}
