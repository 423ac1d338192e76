// Package quota answers how much storage an owner uses and whether an
// upload of a given size may be admitted.
package quota

import (
	"context"
	"fmt"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/abduss/bucketsvc/internal/metrics"
	"github.com/google/uuid"
)

// ErrQuotaExceeded is returned by Check when an upload would exceed the limit.
var ErrQuotaExceeded = fmt.Errorf("storage limit exceeded: %w", apperr.ErrQuotaExceeded)

// UsageSource reports an owner's usage from the cached bucket aggregates.
type UsageSource interface {
	TotalUsage(ctx context.Context, ownerID uuid.UUID) (int64, error)
}

// Ledger computes usage on demand; it holds no state of its own.
//
// Admission is check-then-act: two concurrent uploads that each fit can
// together overshoot the limit by at most one in-flight upload. Later
// uploads are rejected until usage drops again.
type Ledger struct {
	usage UsageSource
	limit int64
}

// NewLedger builds a ledger enforcing limit bytes per owner.
func NewLedger(usage UsageSource, limit int64) *Ledger {
	return &Ledger{usage: usage, limit: limit}
}

// Limit returns the per-owner byte limit.
func (l *Ledger) Limit() int64 {
	return l.limit
}

// CurrentUsage sums total_size over the owner's buckets.
func (l *Ledger) CurrentUsage(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	used, err := l.usage.TotalUsage(ctx, ownerID)
	if err != nil {
		return 0, apperr.Storage("read usage", err)
	}
	return used, nil
}

// Admit reports whether the owner can absorb additional bytes.
func (l *Ledger) Admit(ctx context.Context, ownerID uuid.UUID, additional int64) (bool, error) {
	used, err := l.CurrentUsage(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return used+additional <= l.limit, nil
}

// Check is Admit expressed as an error.
func (l *Ledger) Check(ctx context.Context, ownerID uuid.UUID, additional int64) error {
	ok, err := l.Admit(ctx, ownerID, additional)
	if err != nil {
		return err
	}
	if !ok {
		metrics.QuotaRejections.Inc()
		return ErrQuotaExceeded
	}
	return nil
}

// Usage is the caller-facing usage summary.
type Usage struct {
	UsedBytes  int64   `json:"storage_used"`
	LimitBytes int64   `json:"storage_limit"`
	Percentage float64 `json:"storage_percentage"`
}

// Summary returns usage, limit and percentage used for the owner.
func (l *Ledger) Summary(ctx context.Context, ownerID uuid.UUID) (Usage, error) {
	used, err := l.CurrentUsage(ctx, ownerID)
	if err != nil {
		return Usage{}, err
	}
	pct := 0.0
	if l.limit > 0 {
		pct = float64(used) / float64(l.limit) * 100
	}
	return Usage{UsedBytes: used, LimitBytes: l.limit, Percentage: pct}, nil
}
