package stream

import (
	"context"
	"time"

	"caseroute/core/port/out"

	"github.com/google/uuid"
)

// Producer implements out.JobProducer on Redis Streams.
type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func (p *Producer) PublishClassify(ctx context.Context, firmID uuid.UUID, messageID int64) (string, error) {
	job := &Job{
		ID:   uuid.New().String(),
		Type: "route.classify",
		Payload: map[string]any{
			"firm_id":    firmID.String(),
			"message_id": messageID,
		},
		CreatedAt: time.Now(),
	}
	return p.stream.Publish(ctx, StreamClassify, job)
}

func (p *Producer) PublishBackfill(ctx context.Context, firmID uuid.UUID, jobID int64) (string, error) {
	job := &Job{
		ID:   uuid.New().String(),
		Type: "route.backfill",
		Payload: map[string]any{
			"firm_id": firmID.String(),
			"job_id":  jobID,
		},
		CreatedAt: time.Now(),
	}
	return p.stream.Publish(ctx, StreamBackfill, job)
}

func (p *Producer) PublishReevaluate(ctx context.Context, firmID uuid.UUID, contactID int64) (string, error) {
	job := &Job{
		ID:   uuid.New().String(),
		Type: "route.reevaluate",
		Payload: map[string]any{
			"firm_id":    firmID.String(),
			"contact_id": contactID,
		},
		CreatedAt: time.Now(),
	}
	return p.stream.Publish(ctx, StreamReeval, job)
}

var _ out.JobProducer = (*Producer)(nil)
