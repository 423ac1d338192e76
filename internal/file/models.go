package file

import (
	"time"

	"github.com/google/uuid"
)

// Metadata is the record kept for every stored file.
type Metadata struct {
	ID           uuid.UUID `json:"id"`
	BucketID     uuid.UUID `json:"bucket_id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	Checksum     string    `json:"checksum"`
	BlobLocation string    `json:"-"`
	UploadedAt   time.Time `json:"uploaded_at"`
}
