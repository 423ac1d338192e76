// Package reconcile checks and repairs the consistency of bucket aggregates,
// file records and stored blobs.
//
// The sweep runs per owner. For every bucket it recomputes the aggregates
// from the file records and verifies that each record's blob exists. It then
// lists the owner's blobs and reports those no record points at.
//
// Repairs are opt-in and belong to the offline reconcile command. Aggregates
// are overwritten with the recomputed values, which is only correct while no
// upload or delete runs against the bucket, so scheduled sweeps report only.
// Orphan blobs are removed once they are older than the grace period. Records
// whose blob is missing are never removed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abduss/bucketsvc/internal/blob"
	"github.com/abduss/bucketsvc/internal/bucket"
	"github.com/abduss/bucketsvc/internal/file"
	"github.com/abduss/bucketsvc/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 4

type bucketStore interface {
	ListAll(ctx context.Context) ([]bucket.Bucket, error)
	SetStats(ctx context.Context, bucketID uuid.UUID, stats bucket.Stats) error
}

type fileIndex interface {
	List(ctx context.Context, bucketID uuid.UUID) ([]file.Metadata, error)
	StatsForBucket(ctx context.Context, bucketID uuid.UUID) (bucket.Stats, error)
}

type blobIndex interface {
	Exists(ctx context.Context, location string) (bool, error)
	List(ctx context.Context, prefix string) ([]blob.Entry, error)
	Delete(ctx context.Context, location string) error
}

// Options tune a Reconciler.
type Options struct {
	OrphanGrace time.Duration
	Parallelism int
}

// Drift describes a bucket whose cached aggregates disagree with its records.
type Drift struct {
	BucketID uuid.UUID
	OwnerID  uuid.UUID
	Name     string
	Cached   bucket.Stats
	Actual   bucket.Stats
	Repaired bool
}

// MissingBlob is a file record without stored bytes.
type MissingBlob struct {
	FileID   uuid.UUID
	Location string
}

// OrphanBlob is a stored blob no file record refers to.
type OrphanBlob struct {
	Location string
	Size     int64
	Removed  bool
}

// Report summarizes one sweep.
type Report struct {
	Buckets      int
	Files        int
	Drift        []Drift
	MissingBlobs []MissingBlob
	OrphanBlobs  []OrphanBlob
}

// Clean reports whether the sweep found nothing to flag.
func (r Report) Clean() bool {
	return len(r.Drift) == 0 && len(r.MissingBlobs) == 0 && len(r.OrphanBlobs) == 0
}

// Reconciler runs consistency sweeps.
type Reconciler struct {
	buckets     bucketStore
	files       fileIndex
	blobs       blobIndex
	grace       time.Duration
	parallelism int
	nowFunc     func() time.Time
}

// New builds a Reconciler.
func New(buckets bucketStore, files fileIndex, blobs blobIndex, opts Options) *Reconciler {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Reconciler{
		buckets:     buckets,
		files:       files,
		blobs:       blobs,
		grace:       opts.OrphanGrace,
		parallelism: parallelism,
		nowFunc:     time.Now,
	}
}

// Run sweeps every owner. With fix set, drifted aggregates are rewritten and
// expired orphan blobs deleted; callers must not run it with fix against a
// serving deployment.
func (r *Reconciler) Run(ctx context.Context, fix bool) (Report, error) {
	report, err := r.run(ctx, fix)
	result := "clean"
	switch {
	case err != nil:
		result = "error"
	case !report.Clean():
		result = "inconsistent"
	}
	metrics.ReconcileRuns.WithLabelValues(result).Inc()
	return report, err
}

func (r *Reconciler) run(ctx context.Context, fix bool) (Report, error) {
	all, err := r.buckets.ListAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list buckets: %w", err)
	}

	byOwner := make(map[uuid.UUID][]bucket.Bucket)
	for _, b := range all {
		byOwner[b.OwnerID] = append(byOwner[b.OwnerID], b)
	}

	var (
		mu     sync.Mutex
		report = Report{Buckets: len(all)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for ownerID, buckets := range byOwner {
		g.Go(func() error {
			partial, err := r.checkOwner(gctx, ownerID, buckets, fix)
			if err != nil {
				return fmt.Errorf("owner %s: %w", ownerID, err)
			}
			mu.Lock()
			report.Files += partial.Files
			report.Drift = append(report.Drift, partial.Drift...)
			report.MissingBlobs = append(report.MissingBlobs, partial.MissingBlobs...)
			report.OrphanBlobs = append(report.OrphanBlobs, partial.OrphanBlobs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Reconciler) checkOwner(ctx context.Context, ownerID uuid.UUID, buckets []bucket.Bucket, fix bool) (Report, error) {
	log := zerolog.Ctx(ctx).With().Str("owner_id", ownerID.String()).Logger()

	var report Report
	known := make(map[string]struct{})
	for _, b := range buckets {
		records, err := r.files.List(ctx, b.ID)
		if err != nil {
			return report, err
		}
		report.Files += len(records)

		actual, err := r.files.StatsForBucket(ctx, b.ID)
		if err != nil {
			return report, err
		}
		for _, rec := range records {
			known[rec.BlobLocation] = struct{}{}

			exists, err := r.blobs.Exists(ctx, rec.BlobLocation)
			if err != nil {
				return report, fmt.Errorf("check blob %s: %w", rec.BlobLocation, err)
			}
			if !exists {
				metrics.Inconsistencies.WithLabelValues(metrics.KindMissingBlob).Inc()
				log.Error().Str("file_id", rec.ID.String()).Str("location", rec.BlobLocation).Msg("file record has no blob")
				report.MissingBlobs = append(report.MissingBlobs, MissingBlob{FileID: rec.ID, Location: rec.BlobLocation})
			}
		}

		cached := bucket.Stats{FileCount: b.FileCount, TotalSize: b.TotalSize}
		if cached != actual {
			drift := Drift{BucketID: b.ID, OwnerID: ownerID, Name: b.Name, Cached: cached, Actual: actual}
			metrics.Inconsistencies.WithLabelValues(metrics.KindAggregateDrift).Inc()
			log.Warn().
				Str("bucket", b.Name).
				Int64("cached_files", cached.FileCount).
				Int64("actual_files", actual.FileCount).
				Int64("cached_bytes", cached.TotalSize).
				Int64("actual_bytes", actual.TotalSize).
				Msg("bucket aggregates drifted")
			if fix {
				if err := r.buckets.SetStats(ctx, b.ID, actual); err != nil && !errors.Is(err, bucket.ErrBucketNotFound) {
					return report, err
				}
				drift.Repaired = true
			}
			report.Drift = append(report.Drift, drift)
		}
	}

	entries, err := r.blobs.List(ctx, ownerID.String())
	if err != nil {
		return report, err
	}
	cutoff := r.nowFunc().Add(-r.grace)
	for _, entry := range entries {
		if _, ok := known[entry.Location]; ok {
			continue
		}
		if entry.ModTime.After(cutoff) {
			continue
		}
		orphan := OrphanBlob{Location: entry.Location, Size: entry.Size}
		metrics.Inconsistencies.WithLabelValues(metrics.KindOrphanBlob).Inc()
		if fix {
			if err := r.blobs.Delete(ctx, entry.Location); err != nil {
				log.Error().Err(err).Str("location", entry.Location).Msg("failed to remove orphan blob")
			} else {
				orphan.Removed = true
			}
		}
		log.Warn().Str("location", entry.Location).Bool("removed", orphan.Removed).Msg("orphan blob")
		report.OrphanBlobs = append(report.OrphanBlobs, orphan)
	}
	return report, nil
}
