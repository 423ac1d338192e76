// Package memstore is an in-memory Metadata Store with the same semantics as
// the PostgreSQL repositories: per-owner unique bucket names, per-bucket
// unique filenames, atomic aggregate increments and cascading bucket deletes.
//
// It backs the engine and reconciler tests, which need real concurrency
// behavior without a database.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/abduss/bucketsvc/internal/bucket"
	"github.com/abduss/bucketsvc/internal/file"
	"github.com/google/uuid"
)

var errNoBucket = errors.New("bucket does not exist")

// Store holds buckets and file records behind one lock.
type Store struct {
	mu      sync.Mutex
	buckets map[uuid.UUID]bucket.Bucket
	files   map[uuid.UUID]file.Metadata

	// Failure injection, consulted on every call. Set before use.
	CreateFileErr error
	IncrementErr  error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		buckets: make(map[uuid.UUID]bucket.Bucket),
		files:   make(map[uuid.UUID]file.Metadata),
	}
}

// Buckets returns the bucket repository view of the store.
func (s *Store) Buckets() *Buckets { return &Buckets{s: s} }

// Files returns the file repository view of the store.
func (s *Store) Files() *Files { return &Files{s: s} }

// Buckets mirrors bucket.Repository.
type Buckets struct{ s *Store }

func (b *Buckets) Create(_ context.Context, ownerID uuid.UUID, name string, description *string) (bucket.Bucket, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	for _, existing := range b.s.buckets {
		if existing.OwnerID == ownerID && existing.Name == name {
			return bucket.Bucket{}, bucket.ErrBucketNameExists
		}
	}
	created := bucket.Bucket{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	b.s.buckets[created.ID] = created
	return created, nil
}

func (b *Buckets) GetByName(_ context.Context, ownerID uuid.UUID, name string) (bucket.Bucket, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	for _, existing := range b.s.buckets {
		if existing.OwnerID == ownerID && existing.Name == name {
			return existing, nil
		}
	}
	return bucket.Bucket{}, bucket.ErrBucketNotFound
}

func (b *Buckets) List(_ context.Context, ownerID uuid.UUID) ([]bucket.Bucket, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	var out []bucket.Bucket
	for _, existing := range b.s.buckets {
		if existing.OwnerID == ownerID {
			out = append(out, existing)
		}
	}
	sortBuckets(out)
	return out, nil
}

func (b *Buckets) ListAll(_ context.Context) ([]bucket.Bucket, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	out := make([]bucket.Bucket, 0, len(b.s.buckets))
	for _, existing := range b.s.buckets {
		out = append(out, existing)
	}
	sortBuckets(out)
	return out, nil
}

// Delete removes the bucket and, like the foreign key, its file records.
func (b *Buckets) Delete(_ context.Context, ownerID, bucketID uuid.UUID) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	existing, ok := b.s.buckets[bucketID]
	if !ok || existing.OwnerID != ownerID {
		return bucket.ErrBucketNotFound
	}
	delete(b.s.buckets, bucketID)
	for id, meta := range b.s.files {
		if meta.BucketID == bucketID {
			delete(b.s.files, id)
		}
	}
	return nil
}

func (b *Buckets) IncrementStats(_ context.Context, bucketID uuid.UUID, deltaFiles, deltaBytes int64) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if b.s.IncrementErr != nil {
		return apperr.Storage("increment bucket stats", b.s.IncrementErr)
	}
	existing, ok := b.s.buckets[bucketID]
	if !ok {
		return bucket.ErrBucketNotFound
	}
	existing.FileCount += deltaFiles
	existing.TotalSize += deltaBytes
	b.s.buckets[bucketID] = existing
	return nil
}

func (b *Buckets) SetStats(_ context.Context, bucketID uuid.UUID, stats bucket.Stats) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	existing, ok := b.s.buckets[bucketID]
	if !ok {
		return bucket.ErrBucketNotFound
	}
	existing.FileCount = stats.FileCount
	existing.TotalSize = stats.TotalSize
	b.s.buckets[bucketID] = existing
	return nil
}

func (b *Buckets) TotalUsage(_ context.Context, ownerID uuid.UUID) (int64, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	var total int64
	for _, existing := range b.s.buckets {
		if existing.OwnerID == ownerID {
			total += existing.TotalSize
		}
	}
	return total, nil
}

// Files mirrors file.Repository.
type Files struct{ s *Store }

func (f *Files) Create(_ context.Context, meta file.Metadata) (file.Metadata, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if f.s.CreateFileErr != nil {
		return file.Metadata{}, apperr.Storage("create file metadata", f.s.CreateFileErr)
	}
	if _, ok := f.s.buckets[meta.BucketID]; !ok {
		return file.Metadata{}, apperr.Storage("create file metadata", errNoBucket)
	}
	for _, existing := range f.s.files {
		if existing.BucketID == meta.BucketID && existing.Filename == meta.Filename {
			return file.Metadata{}, file.ErrFileExists
		}
	}
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now().UTC()
	}
	f.s.files[meta.ID] = meta
	return meta, nil
}

func (f *Files) GetByName(_ context.Context, bucketID uuid.UUID, filename string) (file.Metadata, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	for _, existing := range f.s.files {
		if existing.BucketID == bucketID && existing.Filename == filename {
			return existing, nil
		}
	}
	return file.Metadata{}, file.ErrFileNotFound
}

func (f *Files) List(_ context.Context, bucketID uuid.UUID) ([]file.Metadata, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var out []file.Metadata
	for _, existing := range f.s.files {
		if existing.BucketID == bucketID {
			out = append(out, existing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (f *Files) Delete(_ context.Context, fileID uuid.UUID) (file.Metadata, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	existing, ok := f.s.files[fileID]
	if !ok {
		return file.Metadata{}, file.ErrFileNotFound
	}
	delete(f.s.files, fileID)
	return existing, nil
}

func (f *Files) DeleteForBucket(_ context.Context, bucketID uuid.UUID) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var removed int64
	for id, existing := range f.s.files {
		if existing.BucketID == bucketID {
			delete(f.s.files, id)
			removed++
		}
	}
	return removed, nil
}

func (f *Files) StatsForBucket(_ context.Context, bucketID uuid.UUID) (bucket.Stats, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var stats bucket.Stats
	for _, existing := range f.s.files {
		if existing.BucketID == bucketID {
			stats.FileCount++
			stats.TotalSize += existing.Size
		}
	}
	return stats, nil
}

func sortBuckets(buckets []bucket.Bucket) {
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].OwnerID != buckets[j].OwnerID {
			return buckets[i].OwnerID.String() < buckets[j].OwnerID.String()
		}
		return buckets[i].Name < buckets[j].Name
	})
}
