package worker

import (
	"context"

	"caseroute/core/service/routing"
	"caseroute/pkg/logger"
)

// ClassifyProcessor routes one ingested message. Delivery is at-least-once;
// the routing service's state gate makes duplicate runs harmless.
type ClassifyProcessor struct {
	routing *routing.Service
	log     *logger.Logger
}

func NewClassifyProcessor(routingSvc *routing.Service) *ClassifyProcessor {
	return &ClassifyProcessor{
		routing: routingSvc,
		log:     logger.WithField("processor", "classify"),
	}
}

func (p *ClassifyProcessor) Process(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ClassifyPayload](msg)
	if err != nil {
		p.log.WithError(err).Error("invalid classify payload: job_id=%s", msg.ID)
		return nil // malformed, no point retrying
	}

	if err := p.routing.ClassifyAndCommit(ctx, payload.MessageID); err != nil {
		p.log.WithError(err).Error("classification failed: message_id=%d", payload.MessageID)
		return err
	}
	return nil
}
