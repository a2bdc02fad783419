package persistence

import (
	"database/sql"
	"errors"

	"caseroute/pkg/apperr"
)

// wrapGet maps sql.ErrNoRows onto the shared NOT_FOUND taxonomy so callers
// can branch on apperr.IsNotFound without importing database/sql.
func wrapGet(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	return apperr.DatabaseError("get "+resource, err)
}
