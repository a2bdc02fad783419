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
// CaseAdapter - cases and clients
// =============================================================================

type CaseAdapter struct {
	db *sqlx.DB
}

func NewCaseAdapter(db *sqlx.DB) *CaseAdapter {
	return &CaseAdapter{db: db}
}

type caseEntity struct {
	ID       int64     `db:"id"`
	FirmID   uuid.UUID `db:"firm_id"`
	ClientID int64     `db:"client_id"`

	Title  string `db:"title"`
	Status string `db:"status"`

	ReferenceNumbers pq.StringArray `db:"reference_numbers"`
	Keywords         pq.StringArray `db:"keywords"`
	ActorNames       pq.StringArray `db:"actor_names"`

	LastActivityAt sql.NullTime `db:"last_activity_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func (e *caseEntity) toDomain() *domain.Case {
	c := &domain.Case{
		ID:               e.ID,
		FirmID:           e.FirmID,
		ClientID:         e.ClientID,
		Title:            e.Title,
		Status:           domain.CaseStatus(e.Status),
		ReferenceNumbers: e.ReferenceNumbers,
		Keywords:         e.Keywords,
		ActorNames:       e.ActorNames,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
	if e.LastActivityAt.Valid {
		c.LastActivityAt = &e.LastActivityAt.Time
	}
	return c
}

const caseColumns = `
	id, firm_id, client_id, title, status,
	reference_numbers, keywords, actor_names,
	last_activity_at, created_at, updated_at
`

func (a *CaseAdapter) GetByID(ctx context.Context, id int64) (*domain.Case, error) {
	var entity caseEntity
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		return nil, wrapGet(err, "case")
	}
	return entity.toDomain(), nil
}

func (a *CaseAdapter) ListByIDs(ctx context.Context, ids []int64) ([]*domain.Case, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var entities []caseEntity
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = ANY($1)`
	if err := a.db.SelectContext(ctx, &entities, query, pq.Int64Array(ids)); err != nil {
		return nil, apperr.DatabaseError("list cases", err)
	}
	return toDomainCases(entities), nil
}

func (a *CaseAdapter) ListActiveByClient(ctx context.Context, clientID int64) ([]*domain.Case, error) {
	var entities []caseEntity
	query := `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE client_id = $1 AND status = 'active'
		ORDER BY last_activity_at DESC NULLS LAST
	`
	if err := a.db.SelectContext(ctx, &entities, query, clientID); err != nil {
		return nil, apperr.DatabaseError("list active cases", err)
	}
	return toDomainCases(entities), nil
}

// TouchActivity advances the activity clock. It never moves backwards, so
// out-of-order backfilled mail cannot mask recent activity.
func (a *CaseAdapter) TouchActivity(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE cases SET
			last_activity_at = GREATEST(COALESCE(last_activity_at, $1), $1),
			updated_at = NOW()
		WHERE id = $2
	`
	if _, err := a.db.ExecContext(ctx, query, at, id); err != nil {
		return apperr.DatabaseError("touch case activity", err)
	}
	return nil
}

// =============================================================================
// Clients
// =============================================================================

type clientEntity struct {
	ID     int64     `db:"id"`
	FirmID uuid.UUID `db:"firm_id"`

	Name        string         `db:"name"`
	CompanyName sql.NullString `db:"company_name"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (a *CaseAdapter) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	var entity clientEntity
	query := `SELECT * FROM clients WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		return nil, wrapGet(err, "client")
	}
	client := &domain.Client{
		ID:        entity.ID,
		FirmID:    entity.FirmID,
		Name:      entity.Name,
		CreatedAt: entity.CreatedAt,
		UpdatedAt: entity.UpdatedAt,
	}
	if entity.CompanyName.Valid {
		client.CompanyName = entity.CompanyName.String
	}
	return client, nil
}

func toDomainCases(entities []caseEntity) []*domain.Case {
	cases := make([]*domain.Case, len(entities))
	for i := range entities {
		cases[i] = entities[i].toDomain()
	}
	return cases
}
