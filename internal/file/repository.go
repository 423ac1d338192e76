package file

import (
	"context"
	"errors"
	"time"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/abduss/bucketsvc/internal/bucket"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const fileColumns = `id, bucket_id, owner_id, filename, size_bytes, content_type, checksum, blob_location, uploaded_at`

// Repository provides access to file metadata storage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new file repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts metadata for a new file.
func (r *Repository) Create(ctx context.Context, meta Metadata) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO files (id, bucket_id, owner_id, filename, size_bytes, content_type, checksum, blob_location)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + fileColumns + `;`

	stored, err := scanMetadata(r.pool.QueryRow(ctx, query,
		meta.ID,
		meta.BucketID,
		meta.OwnerID,
		meta.Filename,
		meta.Size,
		meta.ContentType,
		meta.Checksum,
		meta.BlobLocation,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Metadata{}, ErrFileExists
		}
		return Metadata{}, apperr.Storage("create file metadata", err)
	}
	return stored, nil
}

// GetByName fetches the record of a file in a bucket.
func (r *Repository) GetByName(ctx context.Context, bucketID uuid.UUID, filename string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + fileColumns + ` FROM files WHERE bucket_id = $1 AND filename = $2;`

	meta, err := scanMetadata(r.pool.QueryRow(ctx, query, bucketID, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Metadata{}, ErrFileNotFound
		}
		return Metadata{}, apperr.Storage("get file metadata", err)
	}
	return meta, nil
}

// List returns the file records of a bucket.
func (r *Repository) List(ctx context.Context, bucketID uuid.UUID) ([]Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + fileColumns + ` FROM files WHERE bucket_id = $1 ORDER BY uploaded_at DESC, filename;`

	rows, err := r.pool.Query(ctx, query, bucketID)
	if err != nil {
		return nil, apperr.Storage("list files", err)
	}
	defer rows.Close()

	var files []Metadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, apperr.Storage("scan file metadata", err)
		}
		files = append(files, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate files", err)
	}
	return files, nil
}

// Delete removes a record and returns it. A record already removed by a
// concurrent caller yields ErrFileNotFound.
func (r *Repository) Delete(ctx context.Context, fileID uuid.UUID) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `DELETE FROM files WHERE id = $1 RETURNING ` + fileColumns + `;`

	meta, err := scanMetadata(r.pool.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Metadata{}, ErrFileNotFound
		}
		return Metadata{}, apperr.Storage("delete file metadata", err)
	}
	return meta, nil
}

// DeleteForBucket removes every record of a bucket and reports how many went.
func (r *Repository) DeleteForBucket(ctx context.Context, bucketID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	commandTag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE bucket_id = $1;`, bucketID)
	if err != nil {
		return 0, apperr.Storage("delete bucket files", err)
	}
	return commandTag.RowsAffected(), nil
}

// StatsForBucket aggregates the records of a bucket.
func (r *Repository) StatsForBucket(ctx context.Context, bucketID uuid.UUID) (bucket.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	var stats bucket.Stats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)::BIGINT FROM files WHERE bucket_id = $1;`,
		bucketID).Scan(&stats.FileCount, &stats.TotalSize)
	if err != nil {
		return bucket.Stats{}, apperr.Storage("aggregate bucket files", err)
	}
	return stats, nil
}

func scanMetadata(row pgx.Row) (Metadata, error) {
	var meta Metadata
	err := row.Scan(
		&meta.ID,
		&meta.BucketID,
		&meta.OwnerID,
		&meta.Filename,
		&meta.Size,
		&meta.ContentType,
		&meta.Checksum,
		&meta.BlobLocation,
		&meta.UploadedAt,
	)
	return meta, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
