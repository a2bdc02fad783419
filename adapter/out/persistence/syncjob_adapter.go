package persistence

import (
	"context"
	"database/sql"
	"time"

	"caseroute/core/domain"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// SyncJobAdapter - historical backfill jobs
// =============================================================================

type SyncJobAdapter struct {
	db *sqlx.DB
}

func NewSyncJobAdapter(db *sqlx.DB) *SyncJobAdapter {
	return &SyncJobAdapter{db: db}
}

type syncJobEntity struct {
	ID     int64     `db:"id"`
	FirmID uuid.UUID `db:"firm_id"`

	ContactID      int64         `db:"contact_id"`
	ContactAddress string        `db:"contact_address"`
	CaseID         sql.NullInt64 `db:"case_id"`
	OwnerID        uuid.UUID     `db:"owner_id"`

	Status      string         `db:"status"`
	ErrorReason sql.NullString `db:"error_reason"`

	TotalCount      int            `db:"total_count"`
	SyncedCount     int            `db:"synced_count"`
	PageToken       sql.NullString `db:"page_token"`
	AttachmentCount int            `db:"attachment_count"`

	RetryCount  int          `db:"retry_count"`
	MaxRetries  int          `db:"max_retries"`
	NextRetryAt sql.NullTime `db:"next_retry_at"`

	CancelRequested bool `db:"cancel_requested"`

	StartedAt   sql.NullTime `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (e *syncJobEntity) toDomain() *domain.SyncJob {
	job := &domain.SyncJob{
		ID:              e.ID,
		FirmID:          e.FirmID,
		ContactID:       e.ContactID,
		ContactAddress:  e.ContactAddress,
		OwnerID:         e.OwnerID,
		Status:          domain.SyncJobStatus(e.Status),
		TotalCount:      e.TotalCount,
		SyncedCount:     e.SyncedCount,
		AttachmentCount: e.AttachmentCount,
		RetryCount:      e.RetryCount,
		MaxRetries:      e.MaxRetries,
		CancelRequested: e.CancelRequested,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	if e.CaseID.Valid {
		job.CaseID = &e.CaseID.Int64
	}
	if e.ErrorReason.Valid {
		job.ErrorReason = e.ErrorReason.String
	}
	if e.PageToken.Valid {
		job.PageToken = e.PageToken.String
	}
	if e.NextRetryAt.Valid {
		job.NextRetryAt = &e.NextRetryAt.Time
	}
	if e.StartedAt.Valid {
		job.StartedAt = &e.StartedAt.Time
	}
	if e.CompletedAt.Valid {
		job.CompletedAt = &e.CompletedAt.Time
	}
	return job
}

func (a *SyncJobAdapter) Create(ctx context.Context, job *domain.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (firm_id, contact_id, contact_address, case_id, owner_id, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	var caseID interface{}
	if job.CaseID != nil {
		caseID = *job.CaseID
	}
	err := a.db.QueryRowContext(ctx, query,
		job.FirmID,
		job.ContactID,
		job.ContactAddress,
		caseID,
		job.OwnerID,
		string(job.Status),
		job.MaxRetries,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return apperr.DatabaseError("create sync job", err)
	}
	return nil
}

func (a *SyncJobAdapter) GetByID(ctx context.Context, id int64) (*domain.SyncJob, error) {
	var entity syncJobEntity
	query := `SELECT * FROM sync_jobs WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		return nil, wrapGet(err, "sync job")
	}
	return entity.toDomain(), nil
}

// =============================================================================
// State transitions
// =============================================================================

// MarkInProgress claims the job. Gated on pending so a duplicate delivery
// cannot start a second run; a retry resumes an in_progress job without
// going through here.
func (a *SyncJobAdapter) MarkInProgress(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE sync_jobs SET
			status = 'in_progress',
			started_at = COALESCE(started_at, $1),
			updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`
	res, err := a.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, apperr.DatabaseError("mark sync job in progress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.DatabaseError("mark sync job in progress", err)
	}
	return n > 0, nil
}

func (a *SyncJobAdapter) MarkCompleted(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE sync_jobs SET
			status = 'completed',
			completed_at = $1,
			next_retry_at = NULL,
			updated_at = NOW()
		WHERE id = $2 AND status IN ('pending', 'in_progress')
	`
	if _, err := a.db.ExecContext(ctx, query, at, id); err != nil {
		return apperr.DatabaseError("mark sync job completed", err)
	}
	return nil
}

func (a *SyncJobAdapter) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	query := `
		UPDATE sync_jobs SET
			status = 'failed',
			error_reason = $1,
			completed_at = $2,
			next_retry_at = NULL,
			updated_at = NOW()
		WHERE id = $3 AND status IN ('pending', 'in_progress')
	`
	if _, err := a.db.ExecContext(ctx, query, reason, at, id); err != nil {
		return apperr.DatabaseError("mark sync job failed", err)
	}
	return nil
}

func (a *SyncJobAdapter) MarkCancelled(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE sync_jobs SET
			status = 'cancelled',
			completed_at = $1,
			next_retry_at = NULL,
			updated_at = NOW()
		WHERE id = $2 AND status IN ('pending', 'in_progress')
	`
	if _, err := a.db.ExecContext(ctx, query, at, id); err != nil {
		return apperr.DatabaseError("mark sync job cancelled", err)
	}
	return nil
}

// =============================================================================
// Progress and retries
// =============================================================================

func (a *SyncJobAdapter) UpdateProgress(ctx context.Context, id int64, synced, total, attachments int, pageToken string) error {
	query := `
		UPDATE sync_jobs SET
			synced_count = $1,
			total_count = $2,
			attachment_count = $3,
			page_token = $4,
			updated_at = NOW()
		WHERE id = $5
	`
	if _, err := a.db.ExecContext(ctx, query, synced, total, attachments, toNullableString(pageToken), id); err != nil {
		return apperr.DatabaseError("update sync job progress", err)
	}
	return nil
}

func (a *SyncJobAdapter) RequestCancel(ctx context.Context, id int64) error {
	query := `
		UPDATE sync_jobs SET
			cancel_requested = TRUE,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'in_progress')
	`
	res, err := a.db.ExecContext(ctx, query, id)
	if err != nil {
		return apperr.DatabaseError("request sync job cancel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("sync job already finished")
	}
	return nil
}

// ScheduleRetry records the next attempt. The job stays in_progress with its
// checkpoint intact; only the retry clock and counter move.
func (a *SyncJobAdapter) ScheduleRetry(ctx context.Context, id int64, nextRetryAt time.Time) error {
	query := `
		UPDATE sync_jobs SET
			retry_count = retry_count + 1,
			next_retry_at = $1,
			updated_at = NOW()
		WHERE id = $2 AND status = 'in_progress'
	`
	if _, err := a.db.ExecContext(ctx, query, nextRetryAt, id); err != nil {
		return apperr.DatabaseError("schedule sync job retry", err)
	}
	return nil
}

// ListPendingRetries claims due retries by clearing their retry clock in the
// same statement, so concurrent schedulers cannot double-publish a job.
func (a *SyncJobAdapter) ListPendingRetries(ctx context.Context, now time.Time, limit int) ([]*domain.SyncJob, error) {
	var entities []syncJobEntity
	query := `
		UPDATE sync_jobs SET
			next_retry_at = NULL,
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = 'in_progress'
			  AND next_retry_at IS NOT NULL
			  AND next_retry_at <= $1
			  AND retry_count <= max_retries
			  AND NOT cancel_requested
			ORDER BY next_retry_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`
	if err := a.db.SelectContext(ctx, &entities, query, now, limit); err != nil {
		return nil, apperr.DatabaseError("list pending sync retries", err)
	}
	jobs := make([]*domain.SyncJob, len(entities))
	for i := range entities {
		jobs[i] = entities[i].toDomain()
	}
	return jobs, nil
}
