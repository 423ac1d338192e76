package bucket

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

const maxNameLength = 255

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Bucket represents a logical container for user files.
//
// FileCount and TotalSize are cached aggregates over the bucket's file
// records. They only change through atomic increments.
type Bucket struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FileCount   int64     `json:"file_count"`
	TotalSize   int64     `json:"total_size"`
}

// Stats is a recomputed view of a bucket's aggregates.
type Stats struct {
	FileCount int64
	TotalSize int64
}

// ValidName reports whether name is an acceptable bucket name.
func ValidName(name string) bool {
	return len(name) <= maxNameLength && namePattern.MatchString(name)
}
