package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/abduss/bucketsvc/internal/blob"
	"github.com/abduss/bucketsvc/internal/bucket"
	"github.com/abduss/bucketsvc/internal/metrics"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultContentType = "application/octet-stream"

type metadataStore interface {
	Create(ctx context.Context, meta Metadata) (Metadata, error)
	GetByName(ctx context.Context, bucketID uuid.UUID, filename string) (Metadata, error)
	List(ctx context.Context, bucketID uuid.UUID) ([]Metadata, error)
	Delete(ctx context.Context, fileID uuid.UUID) (Metadata, error)
}

type bucketStore interface {
	GetByName(ctx context.Context, ownerID uuid.UUID, name string) (bucket.Bucket, error)
	IncrementStats(ctx context.Context, bucketID uuid.UUID, deltaFiles, deltaBytes int64) error
}

type admitter interface {
	Check(ctx context.Context, ownerID uuid.UUID, additional int64) error
}

type blobStore interface {
	Write(ctx context.Context, location string, data []byte) error
	Open(ctx context.Context, location string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, location string) error
}

// Service manages file lifecycle operations and keeps blobs, file records
// and bucket aggregates consistent with each other.
type Service struct {
	repo          metadataStore
	buckets       bucketStore
	quota         admitter
	blobs         blobStore
	maxUploadSize int64
	nowFunc       func() time.Time
}

// NewService constructs a file service.
func NewService(repo metadataStore, buckets bucketStore, quota admitter, blobs blobStore, maxUploadSize int64) *Service {
	return &Service{
		repo:          repo,
		buckets:       buckets,
		quota:         quota,
		blobs:         blobs,
		maxUploadSize: maxUploadSize,
		nowFunc:       time.Now,
	}
}

// MaxUploadSize returns the largest payload Upload accepts.
func (s *Service) MaxUploadSize() int64 {
	return s.maxUploadSize
}

// Upload stores data as filename in the owner's bucket.
//
// Preconditions are checked against metadata first, then the blob is
// published, then the record is inserted and the aggregates incremented.
// A failed metadata step removes what the upload already wrote.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, bucketName, filename, contentType string, data []byte) (Metadata, error) {
	meta, err := s.upload(ctx, ownerID, bucketName, filename, contentType, data)
	metrics.ObserveOp("upload", err)
	if err == nil {
		metrics.UploadedBytes.Add(float64(meta.Size))
	}
	return meta, err
}

func (s *Service) upload(ctx context.Context, ownerID uuid.UUID, bucketName, filename, contentType string, data []byte) (Metadata, error) {
	if err := blob.ValidateSegment(filename); err != nil {
		return Metadata{}, ErrInvalidFilename
	}

	b, err := s.buckets.GetByName(ctx, ownerID, bucketName)
	if err != nil {
		return Metadata{}, err
	}

	size := int64(len(data))
	if s.maxUploadSize > 0 && size > s.maxUploadSize {
		return Metadata{}, ErrFileTooLarge
	}
	if err := s.quota.Check(ctx, ownerID, size); err != nil {
		return Metadata{}, err
	}

	_, err = s.repo.GetByName(ctx, b.ID, filename)
	switch {
	case err == nil:
		return Metadata{}, ErrFileExists
	case !errors.Is(err, ErrFileNotFound):
		return Metadata{}, err
	}

	location := blob.Location(ownerID, b.Name, filename)
	log := zerolog.Ctx(ctx).With().
		Str("owner_id", ownerID.String()).
		Str("bucket", b.Name).
		Str("filename", filename).
		Str("location", location).
		Logger()

	if err := s.blobs.Write(ctx, location, data); err != nil {
		if errors.Is(err, blob.ErrExists) {
			return Metadata{}, ErrFileExists
		}
		return Metadata{}, apperr.Storage("write blob", err)
	}

	sum := sha256.Sum256(data)
	stored, err := s.repo.Create(ctx, Metadata{
		ID:           uuid.New(),
		BucketID:     b.ID,
		OwnerID:      ownerID,
		Filename:     filename,
		Size:         size,
		ContentType:  resolveContentType(contentType, data),
		Checksum:     hex.EncodeToString(sum[:]),
		BlobLocation: location,
		UploadedAt:   s.nowFunc().UTC(),
	})
	if err != nil {
		if cerr := s.discardBlob(ctx, log, location); cerr != nil {
			log.Error().Err(err).Msg("file record insert failed")
			return Metadata{}, apperr.Storage("discard blob after failed insert", cerr)
		}
		return Metadata{}, err
	}

	if err := s.buckets.IncrementStats(ctx, b.ID, 1, size); err != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		if _, derr := s.repo.Delete(cleanupCtx, stored.ID); derr != nil {
			log.Error().Err(derr).Str("file_id", stored.ID.String()).Msg("file record left without aggregate update")
			metrics.Inconsistencies.WithLabelValues(metrics.KindAggregateDrift).Inc()
		}
		if cerr := s.discardBlob(ctx, log, location); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return Metadata{}, apperr.Storage("increment bucket stats", err)
	}

	log.Info().Int64("size", size).Msg("file uploaded")
	return stored, nil
}

// discardBlob removes a blob this upload published. Failures leave an
// orphan behind, which is logged and counted.
func (s *Service) discardBlob(ctx context.Context, log zerolog.Logger, location string) error {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), location); err != nil {
		log.Error().Err(err).Msg("failed to remove blob during compensation")
		metrics.Inconsistencies.WithLabelValues(metrics.KindOrphanBlob).Inc()
		return err
	}
	return nil
}

// List returns the file records of the owner's bucket.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, bucketName string) ([]Metadata, error) {
	b, err := s.buckets.GetByName(ctx, ownerID, bucketName)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, b.ID)
}

// Download returns the file record and a reader over its bytes. The caller
// closes the reader.
func (s *Service) Download(ctx context.Context, ownerID uuid.UUID, bucketName, filename string) (Metadata, io.ReadCloser, error) {
	meta, rc, err := s.download(ctx, ownerID, bucketName, filename)
	metrics.ObserveOp("download", err)
	return meta, rc, err
}

func (s *Service) download(ctx context.Context, ownerID uuid.UUID, bucketName, filename string) (Metadata, io.ReadCloser, error) {
	b, err := s.buckets.GetByName(ctx, ownerID, bucketName)
	if err != nil {
		return Metadata{}, nil, err
	}
	meta, err := s.repo.GetByName(ctx, b.ID, filename)
	if err != nil {
		return Metadata{}, nil, err
	}

	rc, _, err := s.blobs.Open(ctx, meta.BlobLocation)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			metrics.Inconsistencies.WithLabelValues(metrics.KindMissingBlob).Inc()
			zerolog.Ctx(ctx).Error().
				Str("file_id", meta.ID.String()).
				Str("location", meta.BlobLocation).
				Msg("file record has no blob")
			return Metadata{}, nil, ErrBlobMissing
		}
		return Metadata{}, nil, apperr.Storage("open blob", err)
	}
	return meta, rc, nil
}

// Delete removes the file's blob, then its record, then decrements the
// bucket aggregates by the recorded size.
func (s *Service) Delete(ctx context.Context, ownerID uuid.UUID, bucketName, filename string) error {
	err := s.delete(ctx, ownerID, bucketName, filename)
	metrics.ObserveOp("delete_file", err)
	return err
}

func (s *Service) delete(ctx context.Context, ownerID uuid.UUID, bucketName, filename string) error {
	b, err := s.buckets.GetByName(ctx, ownerID, bucketName)
	if err != nil {
		return err
	}
	meta, err := s.repo.GetByName(ctx, b.ID, filename)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, meta.BlobLocation); err != nil {
		return apperr.Storage("delete blob", err)
	}

	// The returned record, not the one read above, decides the decrement:
	// a concurrent delete that got there first yields ErrFileNotFound.
	removed, err := s.repo.Delete(ctx, meta.ID)
	if err != nil {
		return err
	}

	if err := s.buckets.IncrementStats(ctx, b.ID, -1, -removed.Size); err != nil {
		metrics.Inconsistencies.WithLabelValues(metrics.KindAggregateDrift).Inc()
		zerolog.Ctx(ctx).Error().Err(err).
			Str("bucket_id", b.ID.String()).
			Int64("size", removed.Size).
			Msg("bucket aggregates not decremented")
		return apperr.Storage("decrement bucket stats", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("owner_id", ownerID.String()).
		Str("bucket", b.Name).
		Str("filename", filename).
		Msg("file deleted")
	return nil
}

func resolveContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" {
		return declared
	}
	if len(data) == 0 {
		return defaultContentType
	}
	return mimetype.Detect(data).String()
}
