// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Job Queue
// =============================================================================

// JobProducer enqueues background work. Delivery is at-least-once; all
// consumers are idempotent against duplicate delivery.
type JobProducer interface {
	PublishClassify(ctx context.Context, firmID uuid.UUID, messageID int64) (string, error)
	PublishBackfill(ctx context.Context, firmID uuid.UUID, jobID int64) (string, error)
	PublishReevaluate(ctx context.Context, firmID uuid.UUID, contactID int64) (string, error)
}

// =============================================================================
// Job Lease
// =============================================================================

// Lease is a held distributed lock on one job.
type Lease interface {
	// Renew extends the lease TTL. Returns an error when the lease was lost.
	Renew(ctx context.Context) error
	// Release frees the lease.
	Release(ctx context.Context) error
}

// JobLocker hands out per-job leases so the same backfill cannot run twice.
// Renewal cadence is the caller's concern: it must be more frequent than the
// slowest single item operation, not once per batch.
type JobLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
