package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SyncJob - historical backfill for one (case, contact-address) pair
// =============================================================================

type SyncJobStatus string

const (
	SyncJobPending    SyncJobStatus = "pending"
	SyncJobInProgress SyncJobStatus = "in_progress"
	SyncJobCompleted  SyncJobStatus = "completed"
	SyncJobFailed     SyncJobStatus = "failed"
	SyncJobCancelled  SyncJobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s SyncJobStatus) Terminal() bool {
	return s == SyncJobCompleted || s == SyncJobFailed || s == SyncJobCancelled
}

// SyncJob tracks one historical-backfill task. Credentials are deliberately
// absent from the payload: the worker resolves a fresh token per provider call
// through its token source, because a job routinely outlives any access token.
type SyncJob struct {
	ID     int64     `json:"id"`
	FirmID uuid.UUID `json:"firm_id"`

	ContactID      int64  `json:"contact_id"`
	ContactAddress string `json:"contact_address"`
	CaseID         *int64 `json:"case_id,omitempty"` // nil for client-level contacts

	// OwnerID is the principal who requested the sync; backfilled messages
	// are owned by them for visibility purposes.
	OwnerID uuid.UUID `json:"owner_id"`

	Status      SyncJobStatus `json:"status"`
	ErrorReason string        `json:"error_reason,omitempty"`

	// Progress, persisted per processed item so a crash loses at most one
	// message worth of bookkeeping.
	TotalCount      int    `json:"total_count"`
	SyncedCount     int    `json:"synced_count"`
	PageToken       string `json:"page_token,omitempty"` // resume checkpoint
	AttachmentCount int    `json:"attachment_count"`

	// Retry bookkeeping for transient failures
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Operator cancellation, checked between batches
	CancelRequested bool `json:"cancel_requested"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Progress returns synced/total as a ratio in [0,1], 0 when the total is unknown.
func (j *SyncJob) Progress() float64 {
	if j.TotalCount <= 0 {
		return 0
	}
	p := float64(j.SyncedCount) / float64(j.TotalCount)
	if p > 1 {
		p = 1
	}
	return p
}

// RetriesExhausted reports whether another transient failure should be fatal.
func (j *SyncJob) RetriesExhausted() bool {
	return j.RetryCount >= j.MaxRetries
}
