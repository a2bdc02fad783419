package worker

import (
	"context"

	"caseroute/core/service/backfill"
	"caseroute/pkg/logger"
)

// BackfillProcessor executes one sync job attempt. The backfill service owns
// leasing, checkpointing and retry scheduling; a returned error here means
// the job bookkeeping itself failed.
type BackfillProcessor struct {
	backfill *backfill.Service
	log      *logger.Logger
}

func NewBackfillProcessor(backfillSvc *backfill.Service) *BackfillProcessor {
	return &BackfillProcessor{
		backfill: backfillSvc,
		log:      logger.WithField("processor", "backfill"),
	}
}

func (p *BackfillProcessor) Process(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[BackfillPayload](msg)
	if err != nil {
		p.log.WithError(err).Error("invalid backfill payload: job_id=%s", msg.ID)
		return nil
	}

	if err := p.backfill.Run(ctx, payload.JobID); err != nil {
		p.log.WithError(err).Error("backfill run failed: sync_job_id=%d", payload.JobID)
		return err
	}
	return nil
}
