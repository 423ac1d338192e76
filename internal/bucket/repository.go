package bucket

import (
	"context"
	"errors"
	"time"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

const bucketColumns = `id, owner_id, name, description, created_at, file_count, total_size`

// Repository allows access to bucket persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a bucket repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new bucket for the owner with zeroed aggregates.
func (r *Repository) Create(ctx context.Context, ownerID uuid.UUID, name string, description *string) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO buckets (id, owner_id, name, description)
VALUES ($1, $2, $3, $4)
RETURNING ` + bucketColumns + `;`

	bucket, err := scanBucket(r.pool.QueryRow(ctx, query, uuid.New(), ownerID, name, description))
	if err != nil {
		if isUniqueViolation(err) {
			return Bucket{}, ErrBucketNameExists
		}
		return Bucket{}, apperr.Storage("create bucket", err)
	}
	return bucket, nil
}

// GetByName fetches a bucket by its per-owner unique name.
func (r *Repository) GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE owner_id = $1 AND name = $2;`

	bucket, err := scanBucket(r.pool.QueryRow(ctx, query, ownerID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bucket{}, ErrBucketNotFound
		}
		return Bucket{}, apperr.Storage("get bucket", err)
	}
	return bucket, nil
}

// List returns all buckets owned by the user.
func (r *Repository) List(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE owner_id = $1 ORDER BY created_at DESC;`

	return r.query(ctx, "list buckets", query, ownerID)
}

// ListAll returns every bucket of every owner.
func (r *Repository) ListAll(ctx context.Context) ([]Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + bucketColumns + ` FROM buckets ORDER BY owner_id, name;`

	return r.query(ctx, "list all buckets", query)
}

// Delete removes a bucket owned by the user.
func (r *Repository) Delete(ctx context.Context, ownerID, bucketID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	commandTag, err := r.pool.Exec(ctx, `DELETE FROM buckets WHERE id = $1 AND owner_id = $2;`, bucketID, ownerID)
	if err != nil {
		return apperr.Storage("delete bucket", err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// IncrementStats atomically adds the deltas to the bucket aggregates.
func (r *Repository) IncrementStats(ctx context.Context, bucketID uuid.UUID, deltaFiles, deltaBytes int64) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE buckets
SET file_count = file_count + $2,
    total_size = total_size + $3
WHERE id = $1;`

	commandTag, err := r.pool.Exec(ctx, query, bucketID, deltaFiles, deltaBytes)
	if err != nil {
		return apperr.Storage("increment bucket stats", err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// SetStats overwrites the aggregates with recomputed values.
func (r *Repository) SetStats(ctx context.Context, bucketID uuid.UUID, stats Stats) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	commandTag, err := r.pool.Exec(ctx,
		`UPDATE buckets SET file_count = $2, total_size = $3 WHERE id = $1;`,
		bucketID, stats.FileCount, stats.TotalSize)
	if err != nil {
		return apperr.Storage("set bucket stats", err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// TotalUsage sums the cached sizes of every bucket the owner has.
func (r *Repository) TotalUsage(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_size), 0)::BIGINT FROM buckets WHERE owner_id = $1;`,
		ownerID).Scan(&total)
	if err != nil {
		return 0, apperr.Storage("sum bucket usage", err)
	}
	return total, nil
}

func (r *Repository) query(ctx context.Context, op, query string, args ...any) ([]Bucket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		bucket, err := scanBucket(rows)
		if err != nil {
			return nil, apperr.Storage("scan bucket", err)
		}
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return buckets, nil
}

func scanBucket(row pgx.Row) (Bucket, error) {
	var bucket Bucket
	err := row.Scan(
		&bucket.ID,
		&bucket.OwnerID,
		&bucket.Name,
		&bucket.Description,
		&bucket.CreatedAt,
		&bucket.FileCount,
		&bucket.TotalSize,
	)
	return bucket, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
