package bucket

import (
	"context"
	"errors"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/abduss/bucketsvc/internal/blob"
	"github.com/abduss/bucketsvc/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FileIndex removes the file records of a bucket.
type FileIndex interface {
	DeleteForBucket(ctx context.Context, bucketID uuid.UUID) (int64, error)
}

type repository interface {
	Create(ctx context.Context, ownerID uuid.UUID, name string, description *string) (Bucket, error)
	GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error)
	Delete(ctx context.Context, ownerID, bucketID uuid.UUID) error
}

// namespaces is the part of the blob store that manages bucket directories.
type namespaces interface {
	MakeDir(ctx context.Context, prefix string) error
	RemoveAll(ctx context.Context, prefix string) error
}

// Service orchestrates bucket operations.
type Service struct {
	repo  repository
	files FileIndex
	blobs namespaces
}

// NewService constructs a bucket service.
func NewService(repo repository, files FileIndex, blobs namespaces) *Service {
	return &Service{
		repo:  repo,
		files: files,
		blobs: blobs,
	}
}

// CreateBucket creates the bucket directory and then its metadata document.
func (s *Service) CreateBucket(ctx context.Context, ownerID uuid.UUID, name string, description *string) (Bucket, error) {
	bucket, err := s.createBucket(ctx, ownerID, name, description)
	metrics.ObserveOp("create_bucket", err)
	return bucket, err
}

func (s *Service) createBucket(ctx context.Context, ownerID uuid.UUID, name string, description *string) (Bucket, error) {
	if !ValidName(name) {
		return Bucket{}, ErrInvalidBucketName
	}

	_, err := s.repo.GetByName(ctx, ownerID, name)
	switch {
	case err == nil:
		return Bucket{}, ErrBucketNameExists
	case !errors.Is(err, ErrBucketNotFound):
		return Bucket{}, err
	}

	if err := s.blobs.MakeDir(ctx, blob.BucketPrefix(ownerID, name)); err != nil {
		return Bucket{}, apperr.Storage("create bucket directory", err)
	}

	// A concurrent creator that wins the insert owns the directory, so it is
	// left in place on ErrBucketNameExists.
	bucket, err := s.repo.Create(ctx, ownerID, name, description)
	if err != nil {
		return Bucket{}, err
	}

	zerolog.Ctx(ctx).Info().
		Str("owner_id", ownerID.String()).
		Str("bucket", name).
		Msg("bucket created")
	return bucket, nil
}

// ListBuckets returns the user's buckets.
func (s *Service) ListBuckets(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error) {
	return s.repo.List(ctx, ownerID)
}

// GetBucket returns a bucket by name, scoped to the owner.
func (s *Service) GetBucket(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error) {
	return s.repo.GetByName(ctx, ownerID, name)
}

// DeleteBucket removes the bucket's file records, its blobs and finally the bucket itself.
//
// Blobs that cannot be removed are logged and left as orphans; the bucket is
// still deleted.
func (s *Service) DeleteBucket(ctx context.Context, ownerID uuid.UUID, name string) error {
	err := s.deleteBucket(ctx, ownerID, name)
	metrics.ObserveOp("delete_bucket", err)
	return err
}

func (s *Service) deleteBucket(ctx context.Context, ownerID uuid.UUID, name string) error {
	bucket, err := s.repo.GetByName(ctx, ownerID, name)
	if err != nil {
		return err
	}

	log := zerolog.Ctx(ctx).With().
		Str("owner_id", ownerID.String()).
		Str("bucket", name).
		Logger()

	removed, err := s.files.DeleteForBucket(ctx, bucket.ID)
	if err != nil {
		return err
	}

	prefix := blob.BucketPrefix(ownerID, name)
	if err := s.blobs.RemoveAll(ctx, prefix); err != nil {
		metrics.Inconsistencies.WithLabelValues(metrics.KindOrphanBlob).Inc()
		log.Error().Err(err).Str("prefix", prefix).Msg("bucket blobs left orphaned")
	}

	if err := s.repo.Delete(ctx, ownerID, bucket.ID); err != nil {
		return err
	}

	log.Info().Int64("files_removed", removed).Msg("bucket deleted")
	return nil
}
