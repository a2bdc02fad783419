package domain

import (
	"time"

	"github.com/google/uuid"
)

// MailboxGrant is a firm's OAuth grant for its mailbox provider. Access
// tokens are short-lived by design; only the refresh token is durable, and it
// rotates whenever the provider issues a new one.
type MailboxGrant struct {
	ID     int64     `json:"id"`
	FirmID uuid.UUID `json:"firm_id"`

	Provider     string    `json:"provider"`
	AccountEmail string    `json:"account_email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Valid reports whether the stored access token is still usable, with a
// safety margin so it cannot expire mid-request.
func (g *MailboxGrant) Valid(now time.Time) bool {
	return g.AccessToken != "" && now.Add(30*time.Second).Before(g.TokenExpiry)
}
