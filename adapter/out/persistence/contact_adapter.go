package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"caseroute/core/domain"
	"caseroute/pkg/apperr"
	"caseroute/pkg/cache"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// courtSenderCacheTTL bounds how long a stale court sender registration can
// keep routing mail to court_unassigned.
const courtSenderCacheTTL = 10 * time.Minute

// =============================================================================
// ContactAdapter - the firm's contact directory
// =============================================================================

type ContactAdapter struct {
	db    *sqlx.DB
	cache *cache.RedisCache
}

func NewContactAdapter(db *sqlx.DB) *ContactAdapter {
	return &ContactAdapter{db: db}
}

// SetCache enables caching of the court sender lookup, which runs once per
// classified message.
func (a *ContactAdapter) SetCache(c *cache.RedisCache) {
	a.cache = c
}

type contactEntity struct {
	ID     int64     `db:"id"`
	FirmID uuid.UUID `db:"firm_id"`

	Kind     string        `db:"kind"`
	CaseID   sql.NullInt64 `db:"case_id"`
	ClientID sql.NullInt64 `db:"client_id"`

	Name    sql.NullString `db:"name"`
	Address string         `db:"address"`
	Domain  sql.NullString `db:"domain"`

	SyncHistory bool `db:"sync_history"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *contactEntity) toDomain() *domain.Contact {
	c := &domain.Contact{
		ID:          e.ID,
		FirmID:      e.FirmID,
		Kind:        domain.ContactKind(e.Kind),
		Address:     e.Address,
		SyncHistory: e.SyncHistory,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.CaseID.Valid {
		c.CaseID = &e.CaseID.Int64
	}
	if e.ClientID.Valid {
		c.ClientID = &e.ClientID.Int64
	}
	if e.Name.Valid {
		c.Name = e.Name.String
	}
	if e.Domain.Valid {
		c.Domain = e.Domain.String
	}
	return c
}

func (a *ContactAdapter) GetByID(ctx context.Context, id int64) (*domain.Contact, error) {
	var entity contactEntity
	query := `SELECT * FROM contacts WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		return nil, wrapGet(err, "contact")
	}
	return entity.toDomain(), nil
}

// ListMatching returns contacts whose address equals the given one or whose
// registered domain covers it. Matching is done in SQL on lowercased values;
// exact-versus-domain precedence is the directory service's concern.
func (a *ContactAdapter) ListMatching(ctx context.Context, firmID uuid.UUID, address string) ([]*domain.Contact, error) {
	addr := strings.ToLower(address)
	dom := ""
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		dom = addr[at+1:]
	}

	var entities []contactEntity
	query := `
		SELECT * FROM contacts
		WHERE firm_id = $1
		  AND (LOWER(address) = $2 OR (domain IS NOT NULL AND LOWER(domain) = $3))
		ORDER BY id ASC
	`
	if err := a.db.SelectContext(ctx, &entities, query, firmID, addr, dom); err != nil {
		return nil, apperr.DatabaseError("list matching contacts", err)
	}

	contacts := make([]*domain.Contact, len(entities))
	for i := range entities {
		contacts[i] = entities[i].toDomain()
	}
	return contacts, nil
}

// IsCourtSender checks the firm's registered institutional sender list, by
// exact address or by domain.
func (a *ContactAdapter) IsCourtSender(ctx context.Context, firmID uuid.UUID, address string) (bool, error) {
	addr := strings.ToLower(address)
	dom := ""
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		dom = addr[at+1:]
	}

	cacheKey := fmt.Sprintf("court:%s:%s", firmID, addr)
	if a.cache != nil {
		if val, hit, err := a.cache.Get(ctx, cacheKey); err == nil && hit {
			return val == "1", nil
		}
	}

	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM court_senders
			WHERE firm_id = $1
			  AND (LOWER(address) = $2 OR (domain IS NOT NULL AND LOWER(domain) = $3))
		)
	`
	if err := a.db.GetContext(ctx, &exists, query, firmID, addr, dom); err != nil {
		return false, apperr.DatabaseError("check court sender", err)
	}

	if a.cache != nil {
		val := "0"
		if exists {
			val = "1"
		}
		// Best effort; a failed cache write just means another DB hit.
		_ = a.cache.Set(ctx, cacheKey, val, courtSenderCacheTTL)
	}
	return exists, nil
}
