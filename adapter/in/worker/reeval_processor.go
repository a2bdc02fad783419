package worker

import (
	"context"

	"caseroute/core/service/routing"
	"caseroute/pkg/logger"
)

// ReevalProcessor re-runs classification for messages touched by a changed
// contact. Only pending and uncertain rows are revisited.
type ReevalProcessor struct {
	routing *routing.Service
	log     *logger.Logger
}

func NewReevalProcessor(routingSvc *routing.Service) *ReevalProcessor {
	return &ReevalProcessor{
		routing: routingSvc,
		log:     logger.WithField("processor", "reeval"),
	}
}

func (p *ReevalProcessor) Process(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ReevaluatePayload](msg)
	if err != nil {
		p.log.WithError(err).Error("invalid reevaluate payload: job_id=%s", msg.ID)
		return nil
	}

	processed, err := p.routing.Reevaluate(ctx, payload.ContactID)
	if err != nil {
		p.log.WithError(err).Error("reevaluation failed: contact_id=%d", payload.ContactID)
		return err
	}
	p.log.Info("reevaluation processed %d messages: contact_id=%d", processed, payload.ContactID)
	return nil
}
