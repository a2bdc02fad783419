package persistence

import (
	"context"
	"database/sql"
	"time"

	"caseroute/core/domain"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// MessageAdapter - message metadata rows
// =============================================================================

type MessageAdapter struct {
	db *sqlx.DB
}

func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type messageEntity struct {
	ID     int64     `db:"id"`
	FirmID uuid.UUID `db:"firm_id"`

	ExternalID     string         `db:"external_id"`
	ConversationID sql.NullString `db:"conversation_id"`

	FromAddress string         `db:"from_address"`
	ToAddresses pq.StringArray `db:"to_addresses"`
	CcAddresses pq.StringArray `db:"cc_addresses"`
	Direction   string         `db:"direction"`

	Subject         string         `db:"subject"`
	Snippet         string         `db:"snippet"`
	ReferenceTokens pq.StringArray `db:"reference_tokens"`
	HasAttachments  bool           `db:"has_attachments"`

	State      string          `db:"state"`
	Confidence sql.NullFloat64 `db:"confidence"`
	ClientID   sql.NullInt64   `db:"client_id"`

	Private             bool           `db:"private"`
	VisibilityActorID   sql.NullString `db:"visibility_actor_id"`
	VisibilityChangedAt sql.NullTime   `db:"visibility_changed_at"`

	OwnerID uuid.UUID `db:"owner_id"`

	ReceivedAt   time.Time    `db:"received_at"`
	ClassifiedAt sql.NullTime `db:"classified_at"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (e *messageEntity) toDomain() *domain.Message {
	msg := &domain.Message{
		ID:              e.ID,
		FirmID:          e.FirmID,
		ExternalID:      e.ExternalID,
		FromAddress:     e.FromAddress,
		ToAddresses:     e.ToAddresses,
		CcAddresses:     e.CcAddresses,
		Direction:       domain.Direction(e.Direction),
		Subject:         e.Subject,
		Snippet:         e.Snippet,
		ReferenceTokens: e.ReferenceTokens,
		HasAttachments:  e.HasAttachments,
		State:           domain.ClassificationState(e.State),
		Private:         e.Private,
		OwnerID:         e.OwnerID,
		ReceivedAt:      e.ReceivedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}

	if e.ConversationID.Valid {
		msg.ConversationID = e.ConversationID.String
	}
	if e.Confidence.Valid {
		msg.Confidence = e.Confidence.Float64
	}
	if e.ClientID.Valid {
		msg.ClientID = &e.ClientID.Int64
	}
	if e.VisibilityActorID.Valid {
		if id, err := uuid.Parse(e.VisibilityActorID.String); err == nil {
			msg.VisibilityActorID = &id
		}
	}
	if e.VisibilityChangedAt.Valid {
		msg.VisibilityChangedAt = &e.VisibilityChangedAt.Time
	}
	if e.ClassifiedAt.Valid {
		msg.ClassifiedAt = &e.ClassifiedAt.Time
	}
	return msg
}

const messageColumns = `
	id, firm_id, external_id, conversation_id,
	from_address, to_addresses, cc_addresses, direction,
	subject, snippet, reference_tokens, has_attachments,
	state, confidence, client_id,
	private, visibility_actor_id, visibility_changed_at,
	owner_id, received_at, classified_at, created_at, updated_at
`

// =============================================================================
// CRUD
// =============================================================================

func (a *MessageAdapter) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (
			firm_id, external_id, conversation_id,
			from_address, to_addresses, cc_addresses, direction,
			subject, snippet, reference_tokens, has_attachments,
			state, private, owner_id, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`
	err := a.db.QueryRowContext(ctx, query,
		msg.FirmID,
		msg.ExternalID,
		toNullableString(msg.ConversationID),
		msg.FromAddress,
		pq.StringArray(msg.ToAddresses),
		pq.StringArray(msg.CcAddresses),
		string(msg.Direction),
		msg.Subject,
		msg.Snippet,
		pq.StringArray(msg.ReferenceTokens),
		msg.HasAttachments,
		string(msg.State),
		msg.Private,
		msg.OwnerID,
		msg.ReceivedAt,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return apperr.DatabaseError("create message", err)
	}
	return nil
}

func (a *MessageAdapter) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	var entity messageEntity
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		return nil, wrapGet(err, "message")
	}
	return entity.toDomain(), nil
}

func (a *MessageAdapter) GetByExternalID(ctx context.Context, firmID uuid.UUID, externalID string) (*domain.Message, error) {
	var entity messageEntity
	query := `SELECT ` + messageColumns + ` FROM messages WHERE firm_id = $1 AND external_id = $2`
	if err := a.db.GetContext(ctx, &entity, query, firmID, externalID); err != nil {
		return nil, wrapGet(err, "message")
	}
	return entity.toDomain(), nil
}

// =============================================================================
// Classification
// =============================================================================

// ApplyDecision commits a decision in one transaction. The row update is
// gated on the current state so concurrent classification paths cannot
// overwrite each other; the binding upsert only happens when the gated
// update actually took the row.
func (a *MessageAdapter) ApplyDecision(ctx context.Context, id int64, dec domain.Decision, expect []domain.ClassificationState) (bool, error) {
	states := make([]string, len(expect))
	for i, s := range expect {
		states[i] = string(s)
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, apperr.DatabaseError("begin apply decision", err)
	}
	defer tx.Rollback()

	var confidence, clientID interface{}
	if _, conf, _, ok := dec.Case(); ok {
		confidence = conf
	}
	if cid, ok := dec.Client(); ok {
		clientID = cid
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET
			state = $1,
			confidence = $2,
			client_id = $3,
			classified_at = NOW(),
			updated_at = NOW()
		WHERE id = $4 AND state = ANY($5)
	`, string(dec.State()), confidence, clientID, id, pq.StringArray(states))
	if err != nil {
		return false, apperr.DatabaseError("apply decision", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.DatabaseError("apply decision", err)
	}
	if n == 0 {
		return false, nil
	}

	if caseID, conf, method, ok := dec.Case(); ok {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO case_bindings (message_id, case_id, confidence, method, "primary")
			VALUES ($1, $2, $3, $4, TRUE)
			ON CONFLICT (message_id, case_id) DO UPDATE SET
				confidence = EXCLUDED.confidence,
				method = EXCLUDED.method,
				updated_at = NOW()
		`, id, caseID, conf, string(method))
		if err != nil {
			return false, apperr.DatabaseError("upsert case binding", err)
		}
	} else {
		// A non-classified outcome clears any stale binding from a prior
		// uncertain-then-reevaluated round trip.
		if _, err := tx.ExecContext(ctx, `DELETE FROM case_bindings WHERE message_id = $1`, id); err != nil {
			return false, apperr.DatabaseError("clear case bindings", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, apperr.DatabaseError("commit apply decision", err)
	}
	return true, nil
}

func (a *MessageAdapter) FindConversationCase(ctx context.Context, firmID uuid.UUID, conversationID string) (int64, bool, error) {
	var caseID int64
	query := `
		SELECT cb.case_id
		FROM messages m
		JOIN case_bindings cb ON cb.message_id = m.id
		WHERE m.firm_id = $1
		  AND m.conversation_id = $2
		  AND m.state = 'classified'
		ORDER BY m.received_at ASC
		LIMIT 1
	`
	if err := a.db.GetContext(ctx, &caseID, query, firmID, conversationID); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, apperr.DatabaseError("find conversation case", err)
	}
	return caseID, true, nil
}

func (a *MessageAdapter) ListReevaluable(ctx context.Context, firmID uuid.UUID, address string, limit int) ([]*domain.Message, error) {
	var entities []messageEntity
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE firm_id = $1
		  AND state IN ('pending', 'uncertain')
		  AND (from_address = $2 OR $2 = ANY(to_addresses) OR $2 = ANY(cc_addresses))
		ORDER BY received_at ASC
		LIMIT $3
	`
	if err := a.db.SelectContext(ctx, &entities, query, firmID, address, limit); err != nil {
		return nil, apperr.DatabaseError("list reevaluable messages", err)
	}
	return toDomainMessages(entities), nil
}

func (a *MessageAdapter) ListClientInbox(ctx context.Context, clientID int64, limit, offset int) ([]*domain.Message, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM messages WHERE client_id = $1 AND state = 'client_inbox'`
	if err := a.db.GetContext(ctx, &total, countQuery, clientID); err != nil {
		return nil, 0, apperr.DatabaseError("count client inbox", err)
	}

	var entities []messageEntity
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE client_id = $1 AND state = 'client_inbox'
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := a.db.SelectContext(ctx, &entities, query, clientID, limit, offset); err != nil {
		return nil, 0, apperr.DatabaseError("list client inbox", err)
	}
	return toDomainMessages(entities), total, nil
}

// =============================================================================
// Visibility
// =============================================================================

func (a *MessageAdapter) UpdateVisibility(ctx context.Context, id int64, private bool, actorID uuid.UUID, at time.Time) error {
	query := `
		UPDATE messages SET
			private = $1,
			visibility_actor_id = $2,
			visibility_changed_at = $3,
			updated_at = NOW()
		WHERE id = $4
	`
	res, err := a.db.ExecContext(ctx, query, private, actorID, at, id)
	if err != nil {
		return apperr.DatabaseError("update message visibility", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message")
	}
	return nil
}

// =============================================================================
// Attachments
// =============================================================================

type attachmentEntity struct {
	ID        int64          `db:"id"`
	MessageID int64          `db:"message_id"`
	FileName  string         `db:"file_name"`
	MimeType  sql.NullString `db:"mime_type"`
	SizeBytes int64          `db:"size_bytes"`

	Private             bool           `db:"private"`
	VisibilityActorID   sql.NullString `db:"visibility_actor_id"`
	VisibilityChangedAt sql.NullTime   `db:"visibility_changed_at"`

	CreatedAt time.Time `db:"created_at"`
}

func (e *attachmentEntity) toDomain() *domain.Attachment {
	att := &domain.Attachment{
		ID:        e.ID,
		MessageID: e.MessageID,
		FileName:  e.FileName,
		SizeBytes: e.SizeBytes,
		Private:   e.Private,
		CreatedAt: e.CreatedAt,
	}
	if e.MimeType.Valid {
		att.MimeType = e.MimeType.String
	}
	if e.VisibilityActorID.Valid {
		if id, err := uuid.Parse(e.VisibilityActorID.String); err == nil {
			att.VisibilityActorID = &id
		}
	}
	if e.VisibilityChangedAt.Valid {
		att.VisibilityChangedAt = &e.VisibilityChangedAt.Time
	}
	return att
}

func (a *MessageAdapter) CreateAttachment(ctx context.Context, att *domain.Attachment) error {
	query := `
		INSERT INTO attachments (message_id, file_name, mime_type, size_bytes, private)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := a.db.QueryRowContext(ctx, query,
		att.MessageID,
		att.FileName,
		toNullableString(att.MimeType),
		att.SizeBytes,
		att.Private,
	).Scan(&att.ID, &att.CreatedAt)
	if err != nil {
		return apperr.DatabaseError("create attachment", err)
	}
	return nil
}

func (a *MessageAdapter) GetAttachment(ctx context.Context, id int64) (*domain.Attachment, error) {
	var entity attachmentEntity
	query := `SELECT * FROM attachments WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		return nil, wrapGet(err, "attachment")
	}
	return entity.toDomain(), nil
}

func (a *MessageAdapter) ListAttachments(ctx context.Context, messageID int64) ([]*domain.Attachment, error) {
	var entities []attachmentEntity
	query := `SELECT * FROM attachments WHERE message_id = $1 ORDER BY id ASC`
	if err := a.db.SelectContext(ctx, &entities, query, messageID); err != nil {
		return nil, apperr.DatabaseError("list attachments", err)
	}
	atts := make([]*domain.Attachment, len(entities))
	for i := range entities {
		atts[i] = entities[i].toDomain()
	}
	return atts, nil
}

func (a *MessageAdapter) UpdateAttachmentVisibility(ctx context.Context, id int64, private bool, actorID uuid.UUID, at time.Time) error {
	query := `
		UPDATE attachments SET
			private = $1,
			visibility_actor_id = $2,
			visibility_changed_at = $3
		WHERE id = $4
	`
	res, err := a.db.ExecContext(ctx, query, private, actorID, at, id)
	if err != nil {
		return apperr.DatabaseError("update attachment visibility", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("attachment")
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func toDomainMessages(entities []messageEntity) []*domain.Message {
	msgs := make([]*domain.Message, len(entities))
	for i := range entities {
		msgs[i] = entities[i].toDomain()
	}
	return msgs
}

func toNullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
