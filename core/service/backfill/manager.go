package backfill

import (
	"context"
	"time"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/pkg/apperr"
	"caseroute/pkg/logger"

	"github.com/google/uuid"
)

const defaultMaxRetries = 5

// Manager owns the sync job lifecycle outside of execution: creation,
// status reads, cancellation and re-enqueueing of due retries.
type Manager struct {
	jobs       out.SyncJobRepository
	contacts   out.ContactRepository
	producer   out.JobProducer
	maxRetries int
	log        *logger.Logger
}

// NewManager builds the job lifecycle manager. maxRetries is the per-job
// transient-failure budget; zero or negative falls back to the default.
func NewManager(jobs out.SyncJobRepository, contacts out.ContactRepository, producer out.JobProducer, maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Manager{
		jobs:       jobs,
		contacts:   contacts,
		producer:   producer,
		maxRetries: maxRetries,
		log:        logger.WithField("component", "backfill_manager"),
	}
}

// Start creates a sync job for the contact and enqueues it. The requesting
// principal becomes the owner of every backfilled message.
func (m *Manager) Start(ctx context.Context, firmID, ownerID uuid.UUID, contactID int64) (*domain.SyncJob, error) {
	contact, err := m.contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact.FirmID != firmID {
		return nil, apperr.NotFound("contact")
	}
	if !contact.SyncHistory {
		return nil, apperr.BadRequest("contact is not enabled for history sync")
	}

	job := &domain.SyncJob{
		FirmID:         firmID,
		ContactID:      contact.ID,
		ContactAddress: contact.Address,
		CaseID:         contact.CaseID,
		OwnerID:        ownerID,
		Status:         domain.SyncJobPending,
		MaxRetries:     m.maxRetries,
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if _, err := m.producer.PublishBackfill(ctx, firmID, job.ID); err != nil {
		// Job row exists; the retry scheduler will pick it up if the enqueue
		// was lost for good.
		m.log.WithError(err).Warn("failed to enqueue sync job: job_id=%d", job.ID)
	}

	m.log.Info("sync job created: job_id=%d contact_id=%d address=%s", job.ID, contactID, contact.Address)
	return job, nil
}

// Get returns one job scoped to the firm.
func (m *Manager) Get(ctx context.Context, firmID uuid.UUID, jobID int64) (*domain.SyncJob, error) {
	job, err := m.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.FirmID != firmID {
		return nil, apperr.NotFound("sync job")
	}
	return job, nil
}

// Cancel requests cooperative cancellation. The running worker honours it at
// the next batch boundary; a job that never started is cancelled outright.
func (m *Manager) Cancel(ctx context.Context, firmID uuid.UUID, jobID int64) error {
	job, err := m.Get(ctx, firmID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperr.Conflict("sync job already finished")
	}
	if job.Status == domain.SyncJobPending {
		return m.jobs.MarkCancelled(ctx, jobID, time.Now())
	}
	return m.jobs.RequestCancel(ctx, jobID)
}

// EnqueueDueRetries re-publishes jobs whose retry time has passed. Called
// periodically by the scheduler.
func (m *Manager) EnqueueDueRetries(ctx context.Context, limit int) (int, error) {
	due, err := m.jobs.ListPendingRetries(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, job := range due {
		if _, err := m.producer.PublishBackfill(ctx, job.FirmID, job.ID); err != nil {
			m.log.WithError(err).Warn("failed to re-enqueue retry: job_id=%d", job.ID)
			continue
		}
		published++
	}
	if published > 0 {
		m.log.Info("re-enqueued %d due sync retries", published)
	}
	return published, nil
}
