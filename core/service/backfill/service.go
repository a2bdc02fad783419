// Package backfill runs historical mailbox synchronisation jobs: for one
// contact address, page through the provider's archive, ingest and classify
// every message, and keep durable per-item progress.
package backfill

import (
	"context"
	"fmt"
	"time"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/pkg/apperr"
	"caseroute/pkg/logger"

	"github.com/google/uuid"
)

// Ingestor persists one provider message. Implemented by the ingest service.
type Ingestor interface {
	IngestProvider(ctx context.Context, firmID, ownerID uuid.UUID, contactAddress string, pm *out.ProviderMessage) (int64, bool, error)
}

// Classifier routes one ingested message. Implemented by the routing service.
type Classifier interface {
	ClassifyAndCommit(ctx context.Context, messageID int64) error
}

// Options carries the operational knobs.
type Options struct {
	BatchSize         int
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		BatchSize:         50,
		LeaseTTL:          120 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		RetryBaseDelay:    30 * time.Second,
		RetryMaxDelay:     time.Hour,
	}
}

// Service executes sync jobs. One Run call owns one job attempt end to end;
// the per-job lease guarantees no second worker runs the same job while a
// heartbeat is alive.
type Service struct {
	jobs       out.SyncJobRepository
	messages   out.MessageRepository
	bodies     out.BodyArchive
	provider   out.MailProviderPort
	tokens     out.TokenSource
	locker     out.JobLocker
	ingestor   Ingestor
	classifier Classifier
	opts       *Options
	log        *logger.Logger
}

func NewService(
	jobs out.SyncJobRepository,
	messages out.MessageRepository,
	bodies out.BodyArchive,
	provider out.MailProviderPort,
	tokens out.TokenSource,
	locker out.JobLocker,
	ingestor Ingestor,
	classifier Classifier,
	opts *Options,
) *Service {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Service{
		jobs:       jobs,
		messages:   messages,
		bodies:     bodies,
		provider:   provider,
		tokens:     tokens,
		locker:     locker,
		ingestor:   ingestor,
		classifier: classifier,
		opts:       opts,
		log:        logger.WithField("component", "backfill"),
	}
}

// Run executes one attempt of the given job. A transient failure schedules a
// retry and returns nil (the job is not done, but this attempt is); only
// infrastructure errors around the job bookkeeping itself are returned.
func (s *Service) Run(ctx context.Context, jobID int64) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		s.log.Debug("job already terminal, skipping: job_id=%d status=%s", jobID, job.Status)
		return nil
	}
	if job.CancelRequested {
		return s.jobs.MarkCancelled(ctx, jobID, time.Now())
	}

	lease, err := s.locker.Acquire(ctx, leaseKey(jobID), s.opts.LeaseTTL)
	if err != nil {
		// Another worker holds the job. Duplicate stream delivery, not an error.
		s.log.Info("job lease unavailable, skipping: job_id=%d", jobID)
		return nil
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			s.log.WithError(err).Warn("lease release failed: job_id=%d", jobID)
		}
	}()

	// Heartbeat keeps the lease alive across long provider calls. If renewal
	// fails the lease is gone and another worker may start, so this attempt
	// must stop at the next cancellation point.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go s.heartbeat(runCtx, lease, cancelRun, jobID)

	if job.Status == domain.SyncJobPending {
		claimed, err := s.jobs.MarkInProgress(ctx, jobID, time.Now())
		if err != nil {
			return err
		}
		if !claimed {
			s.log.Debug("job claimed elsewhere: job_id=%d", jobID)
			return nil
		}
	}

	runErr := s.runPages(runCtx, job)
	if runErr == nil {
		return nil
	}
	if runCtx.Err() != nil && ctx.Err() == nil {
		// Lost the lease mid-run. Progress is persisted; re-enqueue via retry.
		s.log.Warn("lease lost mid-run, scheduling retry: job_id=%d", jobID)
		return s.retryOrFail(ctx, jobID, runErr)
	}
	if isFatal(runErr) {
		s.log.WithError(runErr).Error("job failed permanently: job_id=%d", jobID)
		return s.jobs.MarkFailed(ctx, jobID, runErr.Error(), time.Now())
	}
	return s.retryOrFail(ctx, jobID, runErr)
}

func (s *Service) heartbeat(ctx context.Context, lease out.Lease, lost context.CancelFunc, jobID int64) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Renew(ctx); err != nil {
				s.log.WithError(err).Warn("lease renewal failed: job_id=%d", jobID)
				lost()
				return
			}
		}
	}
}

// runPages walks the provider archive from the persisted checkpoint. Every
// provider call gets a token resolved at call time; a token captured once at
// job start would expire long before a large mailbox finishes.
func (s *Service) runPages(ctx context.Context, job *domain.SyncJob) error {
	pageToken := job.PageToken
	synced := job.SyncedCount
	total := job.TotalCount
	attachments := job.AttachmentCount

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Cancellation is checked between batches, never mid-item.
		fresh, err := s.jobs.GetByID(ctx, job.ID)
		if err != nil {
			return err
		}
		if fresh.CancelRequested {
			s.log.Info("cancel requested, stopping: job_id=%d synced=%d", job.ID, synced)
			return s.jobs.MarkCancelled(ctx, job.ID, time.Now())
		}

		token, err := s.tokens.Token(ctx, job.FirmID)
		if err != nil {
			return fmt.Errorf("resolve token: %w", err)
		}
		page, err := s.provider.ListByCorrespondent(ctx, token, job.ContactAddress, pageToken, s.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("list correspondence: %w", err)
		}
		if total == 0 && page.TotalEstimate > 0 {
			total = page.TotalEstimate
		}

		for _, ref := range page.Messages {
			n, err := s.processItem(ctx, job, ref)
			if err != nil {
				return err
			}
			synced++
			attachments += n
			if err := s.jobs.UpdateProgress(ctx, job.ID, synced, total, attachments, pageToken); err != nil {
				return err
			}
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
		// Checkpoint the page boundary so a crash resumes here.
		if err := s.jobs.UpdateProgress(ctx, job.ID, synced, total, attachments, pageToken); err != nil {
			return err
		}
	}

	if err := s.jobs.MarkCompleted(ctx, job.ID, time.Now()); err != nil {
		return err
	}
	s.log.Info("backfill complete: job_id=%d synced=%d attachments=%d", job.ID, synced, attachments)
	return nil
}

// processItem ingests one message, stores its attachments and classifies it.
// Returns the number of attachments stored. Classification failures do not
// fail the item: the row stays pending and a later re-evaluation picks it up.
func (s *Service) processItem(ctx context.Context, job *domain.SyncJob, ref *out.ProviderMessage) (int, error) {
	pm := ref
	if pm.BodyText == "" && pm.BodyHTML == "" {
		token, err := s.tokens.Token(ctx, job.FirmID)
		if err != nil {
			return 0, fmt.Errorf("resolve token: %w", err)
		}
		full, err := s.provider.GetMessage(ctx, token, ref.ExternalID)
		if err != nil {
			return 0, fmt.Errorf("fetch message %s: %w", ref.ExternalID, err)
		}
		pm = full
	}

	msgID, created, err := s.ingestor.IngestProvider(ctx, job.FirmID, job.OwnerID, job.ContactAddress, pm)
	if err != nil {
		return 0, fmt.Errorf("ingest message %s: %w", pm.ExternalID, err)
	}
	if !created {
		// Seen on a previous attempt or through live delivery. The previous
		// attempt may have died between ingest and the attachment loop, so
		// anything still missing is fetched now.
		return s.repairAttachments(ctx, job, pm, msgID)
	}

	stored, err := s.storeAttachments(ctx, job, pm, msgID, nil)
	if err != nil {
		return stored, err
	}

	if err := s.classifier.ClassifyAndCommit(ctx, msgID); err != nil {
		s.log.WithError(err).Warn("classification failed during backfill, leaving pending: message_id=%d", msgID)
	}
	return stored, nil
}

// repairAttachments completes the attachment set of an already-ingested
// message. A no-op when every expected attachment is on record.
func (s *Service) repairAttachments(ctx context.Context, job *domain.SyncJob, pm *out.ProviderMessage, msgID int64) (int, error) {
	if len(pm.Attachments) == 0 {
		return 0, nil
	}
	existing, err := s.messages.ListAttachments(ctx, msgID)
	if err != nil {
		return 0, fmt.Errorf("list attachments for %s: %w", pm.ExternalID, err)
	}
	if len(existing) >= len(pm.Attachments) {
		return 0, nil
	}
	have := make(map[string]bool, len(existing))
	for _, att := range existing {
		have[att.FileName] = true
	}
	s.log.Info("repairing attachments: message_id=%d have=%d want=%d", msgID, len(existing), len(pm.Attachments))
	return s.storeAttachments(ctx, job, pm, msgID, have)
}

// storeAttachments downloads and records the message's attachments, skipping
// file names in have. Returns the number stored.
func (s *Service) storeAttachments(ctx context.Context, job *domain.SyncJob, pm *out.ProviderMessage, msgID int64, have map[string]bool) (int, error) {
	stored := 0
	for _, att := range pm.Attachments {
		if have[att.FileName] {
			continue
		}
		token, err := s.tokens.Token(ctx, job.FirmID)
		if err != nil {
			return stored, fmt.Errorf("resolve token: %w", err)
		}
		data, err := s.provider.DownloadAttachment(ctx, token, pm.ExternalID, att.ID)
		if err != nil {
			return stored, fmt.Errorf("download attachment %s: %w", att.ID, err)
		}
		record := &domain.Attachment{
			MessageID: msgID,
			FileName:  att.FileName,
			MimeType:  att.MimeType,
			SizeBytes: int64(len(data)),
			Private:   true,
		}
		if err := s.messages.CreateAttachment(ctx, record); err != nil {
			return stored, fmt.Errorf("record attachment %s: %w", att.FileName, err)
		}
		if s.bodies != nil {
			if err := s.bodies.SaveAttachment(ctx, record.ID, msgID, att.FileName, data); err != nil {
				return stored, fmt.Errorf("archive attachment %s: %w", att.FileName, err)
			}
		}
		stored++
	}
	return stored, nil
}

// retryOrFail schedules a backed-off retry for a transient failure, or marks
// the job failed once the retry budget is spent.
func (s *Service) retryOrFail(ctx context.Context, jobID int64, cause error) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.RetriesExhausted() {
		s.log.WithError(cause).Error("retries exhausted: job_id=%d retries=%d", jobID, job.RetryCount)
		return s.jobs.MarkFailed(ctx, jobID, cause.Error(), time.Now())
	}

	delay := s.opts.RetryBaseDelay << uint(job.RetryCount)
	if delay > s.opts.RetryMaxDelay || delay <= 0 {
		delay = s.opts.RetryMaxDelay
	}
	next := time.Now().Add(delay)
	s.log.WithError(cause).Warn("transient failure, retry scheduled: job_id=%d attempt=%d next=%s",
		jobID, job.RetryCount+1, next.Format(time.RFC3339))
	return s.jobs.ScheduleRetry(ctx, jobID, next)
}

// isFatal separates configuration and authorisation failures, which retries
// cannot cure, from transient provider and network trouble.
func isFatal(err error) bool {
	appErr := apperr.AsAppError(err)
	switch appErr.Code {
	case apperr.CodeUnauthorized, apperr.CodeForbidden, apperr.CodeInvalidInput, apperr.CodeBadRequest, apperr.CodeNotFound:
		return true
	}
	return false
}

func leaseKey(jobID int64) string {
	return fmt.Sprintf("sync:lease:%d", jobID)
}
