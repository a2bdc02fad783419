package stream

import (
	"context"
	"log"

	"github.com/goccy/go-json"

	"caseroute/adapter/in/worker"
)

// Submitter is the pool-facing side of the consumer.
type Submitter interface {
	Submit(msg *worker.Message) bool
}

// Consumer reads routing jobs from the streams and hands them to the pool.
// An entry is acked on successful submit; pool-level retries and the DLQ own
// the job from there.
type Consumer struct {
	stream *RedisStream
	pool   Submitter
	name   string
}

func NewConsumer(stream *RedisStream, pool Submitter, name string) *Consumer {
	return &Consumer{
		stream: stream,
		pool:   pool,
		name:   name,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	streams := []string{StreamClassify, StreamBackfill, StreamReeval}
	for _, s := range streams {
		if err := c.stream.CreateGroup(ctx, s); err != nil {
			log.Printf("Failed to create group for %s: %v", s, err)
		}
	}

	for _, s := range streams {
		go c.consume(ctx, s)
	}
}

func (c *Consumer) consume(ctx context.Context, stream string) {
	c.stream.Consume(ctx, stream, c.name, func(id string, data []byte) error {
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			log.Printf("Failed to unmarshal job: %v", err)
			return nil // poison entry, ack and move on
		}

		msg := &worker.Message{
			ID:        job.ID,
			Type:      job.Type,
			Payload:   job.Payload,
			CreatedAt: job.CreatedAt,
		}

		if !c.pool.Submit(msg) {
			return errNotSubmitted
		}
		return nil
	})
}

type submitError string

func (e submitError) Error() string { return string(e) }

const errNotSubmitted = submitError("worker pool not accepting jobs")
