package persistence

import (
	"context"
	"time"

	"caseroute/core/domain"
	"caseroute/pkg/apperr"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// BindingAdapter - read side of case bindings
// =============================================================================

// Writes go through MessageAdapter.ApplyDecision so binding and message state
// always move together.
type BindingAdapter struct {
	db *sqlx.DB
}

func NewBindingAdapter(db *sqlx.DB) *BindingAdapter {
	return &BindingAdapter{db: db}
}

type bindingEntity struct {
	ID        int64 `db:"id"`
	MessageID int64 `db:"message_id"`
	CaseID    int64 `db:"case_id"`

	Confidence float64 `db:"confidence"`
	Method     string  `db:"method"`
	Primary    bool    `db:"primary"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *bindingEntity) toDomain() *domain.CaseBinding {
	return &domain.CaseBinding{
		ID:         e.ID,
		MessageID:  e.MessageID,
		CaseID:     e.CaseID,
		Confidence: e.Confidence,
		Method:     domain.MatchMethod(e.Method),
		Primary:    e.Primary,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

const bindingColumns = `id, message_id, case_id, confidence, method, "primary", created_at, updated_at`

func (a *BindingAdapter) ListByMessage(ctx context.Context, messageID int64) ([]*domain.CaseBinding, error) {
	var entities []bindingEntity
	query := `SELECT ` + bindingColumns + ` FROM case_bindings WHERE message_id = $1 ORDER BY id ASC`
	if err := a.db.SelectContext(ctx, &entities, query, messageID); err != nil {
		return nil, apperr.DatabaseError("list bindings by message", err)
	}
	return toDomainBindings(entities), nil
}

func (a *BindingAdapter) ListByCase(ctx context.Context, caseID int64, limit, offset int) ([]*domain.CaseBinding, int, error) {
	var total int
	if err := a.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM case_bindings WHERE case_id = $1`, caseID); err != nil {
		return nil, 0, apperr.DatabaseError("count bindings by case", err)
	}

	var entities []bindingEntity
	query := `
		SELECT ` + bindingColumns + `
		FROM case_bindings
		WHERE case_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := a.db.SelectContext(ctx, &entities, query, caseID, limit, offset); err != nil {
		return nil, 0, apperr.DatabaseError("list bindings by case", err)
	}
	return toDomainBindings(entities), total, nil
}

func toDomainBindings(entities []bindingEntity) []*domain.CaseBinding {
	bindings := make([]*domain.CaseBinding, len(entities))
	for i := range entities {
		bindings[i] = entities[i].toDomain()
	}
	return bindings
}
