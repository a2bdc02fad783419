// Package out defines outbound ports (driven ports) for the application.
// These interfaces represent dependencies that the core services need.
package out

import (
	"context"
	"time"

	"caseroute/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Message Repository (PostgreSQL - metadata)
// =============================================================================

// MessageRepository persists message metadata. Bodies live in the body
// archive (MongoDB); the relational row only carries subject, snippet and
// routing fields.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	GetByExternalID(ctx context.Context, firmID uuid.UUID, externalID string) (*domain.Message, error)

	// ApplyDecision commits a classification outcome as one transaction:
	// the state fields are updated and, for a classified decision, the case
	// binding is upserted. The update only applies while the current state is
	// one of expect; it reports false when another path got there first.
	ApplyDecision(ctx context.Context, id int64, dec domain.Decision, expect []domain.ClassificationState) (bool, error)

	// FindConversationCase returns the case a conversation is already bound
	// to, if any classified member exists. Manual bindings count.
	FindConversationCase(ctx context.Context, firmID uuid.UUID, conversationID string) (int64, bool, error)

	// ListReevaluable returns Pending/Uncertain messages for the firm whose
	// envelope touches the given address.
	ListReevaluable(ctx context.Context, firmID uuid.UUID, address string, limit int) ([]*domain.Message, error)

	// ListClientInbox returns client_inbox messages awaiting manual review.
	ListClientInbox(ctx context.Context, clientID int64, limit, offset int) ([]*domain.Message, int, error)

	// Visibility
	UpdateVisibility(ctx context.Context, id int64, private bool, actorID uuid.UUID, at time.Time) error

	// Attachments
	CreateAttachment(ctx context.Context, att *domain.Attachment) error
	GetAttachment(ctx context.Context, id int64) (*domain.Attachment, error)
	ListAttachments(ctx context.Context, messageID int64) ([]*domain.Attachment, error)
	UpdateAttachmentVisibility(ctx context.Context, id int64, private bool, actorID uuid.UUID, at time.Time) error
}

// =============================================================================
// Case / Client Repository
// =============================================================================

type CaseRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Case, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*domain.Case, error)
	ListActiveByClient(ctx context.Context, clientID int64) ([]*domain.Case, error)
	TouchActivity(ctx context.Context, id int64, at time.Time) error

	GetClient(ctx context.Context, id int64) (*domain.Client, error)
}

// =============================================================================
// Contact Directory storage
// =============================================================================

type ContactRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Contact, error)

	// ListMatching returns contacts whose stored address equals the given
	// address or whose domain matches, case-insensitively. Rows are returned
	// as stored; the directory service validates and skips malformed ones.
	ListMatching(ctx context.Context, firmID uuid.UUID, address string) ([]*domain.Contact, error)

	// IsCourtSender reports whether the address or its domain is on the
	// firm's registered institutional sender list.
	IsCourtSender(ctx context.Context, firmID uuid.UUID, address string) (bool, error)
}

// =============================================================================
// Case Binding Repository (queries; writes go through ApplyDecision)
// =============================================================================

type BindingRepository interface {
	ListByMessage(ctx context.Context, messageID int64) ([]*domain.CaseBinding, error)
	ListByCase(ctx context.Context, caseID int64, limit, offset int) ([]*domain.CaseBinding, int, error)
}

// =============================================================================
// Sync Job Repository
// =============================================================================

type SyncJobRepository interface {
	Create(ctx context.Context, job *domain.SyncJob) error
	GetByID(ctx context.Context, id int64) (*domain.SyncJob, error)

	// State transitions. MarkInProgress only succeeds from pending; it
	// reports false when the job is already claimed or terminal.
	MarkInProgress(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error
	MarkCancelled(ctx context.Context, id int64, at time.Time) error

	// UpdateProgress persists counters and the resume checkpoint. Called per
	// processed item, not per batch, so partial progress survives a crash.
	UpdateProgress(ctx context.Context, id int64, synced, total, attachments int, pageToken string) error

	RequestCancel(ctx context.Context, id int64) error

	// Retry scheduling for transient failures
	ScheduleRetry(ctx context.Context, id int64, nextRetryAt time.Time) error
	ListPendingRetries(ctx context.Context, now time.Time, limit int) ([]*domain.SyncJob, error)
}

// =============================================================================
// Body Archive (MongoDB)
// =============================================================================

// BodyArchive stores raw message bodies and attachment payloads outside the
// relational store.
type BodyArchive interface {
	SaveBody(ctx context.Context, messageID int64, firmID uuid.UUID, text, html string) error
	GetBodyText(ctx context.Context, messageID int64) (string, error)
	SaveAttachment(ctx context.Context, attachmentID, messageID int64, fileName string, data []byte) error
}
