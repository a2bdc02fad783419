package worker

import (
	"context"

	"github.com/goccy/go-json"

	"caseroute/pkg/logger"
)

type Handler struct {
	classifyProcessor *ClassifyProcessor
	backfillProcessor *BackfillProcessor
	reevalProcessor   *ReevalProcessor
}

func NewHandler(
	classifyProcessor *ClassifyProcessor,
	backfillProcessor *BackfillProcessor,
	reevalProcessor *ReevalProcessor,
) *Handler {
	return &Handler{
		classifyProcessor: classifyProcessor,
		backfillProcessor: backfillProcessor,
		reevalProcessor:   reevalProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobClassify:
		return h.classifyProcessor.Process(ctx, msg)
	case JobBackfill:
		return h.backfillProcessor.Process(ctx, msg)
	case JobReevaluate:
		return h.reevalProcessor.Process(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
