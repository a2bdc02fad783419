package persistence

import (
	"context"
	"database/sql"
	"errors"

	"caseroute/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// PrincipalAdapter - role-class lookups for the privacy gate
// =============================================================================

type PrincipalAdapter struct {
	db *sqlx.DB
}

func NewPrincipalAdapter(db *sqlx.DB) *PrincipalAdapter {
	return &PrincipalAdapter{db: db}
}

// IsGatekeeper reports whether the principal belongs to the gatekeeper role
// class, whose inbound mail is private by default. Unknown principals are
// treated as gatekeepers: the safe default is private.
func (a *PrincipalAdapter) IsGatekeeper(ctx context.Context, principalID uuid.UUID) (bool, error) {
	var roleClass string
	query := `SELECT role_class FROM principals WHERE id = $1`
	if err := a.db.GetContext(ctx, &roleClass, query, principalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, apperr.DatabaseError("get principal role", err)
	}
	return roleClass == "gatekeeper", nil
}
