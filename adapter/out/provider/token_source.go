package provider

import (
	"context"
	"time"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/pkg/apperr"
	"caseroute/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// GrantStore is the persistence surface the token source needs.
type GrantStore interface {
	GetByFirmID(ctx context.Context, firmID uuid.UUID) (*domain.MailboxGrant, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error
}

// DBTokenSource implements out.TokenSource against the stored mailbox grant.
// It reads the grant on every call and refreshes through OAuth when the
// stored access token is stale. Nothing is held in memory between calls, so
// a token handed out is always one the provider will accept right now.
type DBTokenSource struct {
	grants GrantStore
	config *oauth2.Config
	now    func() time.Time
	log    *logger.Logger
}

func NewDBTokenSource(grants GrantStore, config *oauth2.Config) *DBTokenSource {
	return &DBTokenSource{
		grants: grants,
		config: config,
		now:    time.Now,
		log:    logger.WithField("component", "token_source"),
	}
}

func (s *DBTokenSource) Token(ctx context.Context, firmID uuid.UUID) (*oauth2.Token, error) {
	grant, err := s.grants.GetByFirmID(ctx, firmID)
	if err != nil {
		return nil, err
	}

	if grant.Valid(s.now()) {
		return &oauth2.Token{
			AccessToken:  grant.AccessToken,
			RefreshToken: grant.RefreshToken,
			Expiry:       grant.TokenExpiry,
			TokenType:    "Bearer",
		}, nil
	}

	if grant.RefreshToken == "" {
		return nil, apperr.Unauthorized("mailbox grant has no refresh token")
	}

	stale := &oauth2.Token{
		RefreshToken: grant.RefreshToken,
	}
	fresh, err := s.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, apperr.Unauthorized("mailbox grant refresh failed")
	}

	// Persist before use. If the provider rotated the refresh token and we
	// crash after this point, the stored grant still works.
	rotated := ""
	if fresh.RefreshToken != "" && fresh.RefreshToken != grant.RefreshToken {
		rotated = fresh.RefreshToken
		s.log.Info("refresh token rotated: firm_id=%s", firmID)
	}
	if err := s.grants.UpdateTokens(ctx, grant.ID, fresh.AccessToken, rotated, fresh.Expiry); err != nil {
		return nil, err
	}

	return fresh, nil
}

var _ out.TokenSource = (*DBTokenSource)(nil)
