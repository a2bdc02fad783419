package persistence

import (
	"context"
	"time"

	"caseroute/core/domain"
	"caseroute/pkg/apperr"
	"caseroute/pkg/crypto"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// GrantAdapter - mailbox OAuth grants
// =============================================================================

// GrantAdapter stores mailbox grants with the OAuth tokens encrypted at rest.
// A nil encryptor stores them in the clear; the bootstrap warns about it.
type GrantAdapter struct {
	db  *sqlx.DB
	enc *crypto.Encryptor
}

func NewGrantAdapter(db *sqlx.DB, enc *crypto.Encryptor) *GrantAdapter {
	return &GrantAdapter{db: db, enc: enc}
}

type grantEntity struct {
	ID     int64     `db:"id"`
	FirmID uuid.UUID `db:"firm_id"`

	Provider     string    `db:"provider"`
	AccountEmail string    `db:"account_email"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	TokenExpiry  time.Time `db:"token_expiry"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *grantEntity) toDomain() *domain.MailboxGrant {
	return &domain.MailboxGrant{
		ID:           e.ID,
		FirmID:       e.FirmID,
		Provider:     e.Provider,
		AccountEmail: e.AccountEmail,
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		TokenExpiry:  e.TokenExpiry,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func (a *GrantAdapter) GetByFirmID(ctx context.Context, firmID uuid.UUID) (*domain.MailboxGrant, error) {
	var entity grantEntity
	query := `SELECT * FROM mailbox_grants WHERE firm_id = $1`
	if err := a.db.GetContext(ctx, &entity, query, firmID); err != nil {
		return nil, wrapGet(err, "mailbox grant")
	}

	grant := entity.toDomain()
	if a.enc != nil {
		var err error
		if grant.AccessToken, err = a.enc.Decrypt(entity.AccessToken); err != nil {
			return nil, apperr.InternalWithError(err)
		}
		if grant.RefreshToken, err = a.enc.Decrypt(entity.RefreshToken); err != nil {
			return nil, apperr.InternalWithError(err)
		}
	}
	return grant, nil
}

// UpdateTokens persists a refreshed access token and, when the provider
// rotated it, the new refresh token. Losing a rotated refresh token would
// strand the grant, so this must be written before the token is used.
func (a *GrantAdapter) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error {
	if a.enc != nil {
		var err error
		if accessToken, err = a.enc.Encrypt(accessToken); err != nil {
			return apperr.InternalWithError(err)
		}
		if refreshToken, err = a.enc.Encrypt(refreshToken); err != nil {
			return apperr.InternalWithError(err)
		}
	}

	query := `
		UPDATE mailbox_grants SET
			access_token = $1,
			refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
			token_expiry = $3,
			updated_at = NOW()
		WHERE id = $4
	`
	if _, err := a.db.ExecContext(ctx, query, accessToken, refreshToken, expiry, id); err != nil {
		return apperr.DatabaseError("update grant tokens", err)
	}
	return nil
}
