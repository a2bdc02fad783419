// Package worker consumes routing jobs from the stream and runs them on a
// bounded pool.
package worker

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	JobClassify   JobType = "route.classify"
	JobBackfill   JobType = "route.backfill"
	JobReevaluate JobType = "route.reevaluate"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// Payloads

type ClassifyPayload struct {
	FirmID    string `json:"firm_id"`
	MessageID int64  `json:"message_id"`
}

type BackfillPayload struct {
	FirmID string `json:"firm_id"`
	JobID  int64  `json:"job_id"`
}

type ReevaluatePayload struct {
	FirmID    string `json:"firm_id"`
	ContactID int64  `json:"contact_id"`
}
