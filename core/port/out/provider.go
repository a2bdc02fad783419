// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// =============================================================================
// Mail Provider Port
// =============================================================================

// ProviderMessage is one message as returned by the external provider.
type ProviderMessage struct {
	ExternalID     string
	ConversationID string
	From           string
	To             []string
	Cc             []string
	Subject        string
	BodyText       string
	BodyHTML       string
	ReceivedAt     time.Time
	Attachments    []ProviderAttachmentRef
}

// ProviderAttachmentRef identifies one attachment on a provider message.
type ProviderAttachmentRef struct {
	ID       string
	FileName string
	MimeType string
	Size     int64
}

// ProviderPage is one page of a correspondent listing.
type ProviderPage struct {
	Messages      []*ProviderMessage
	NextPageToken string
	// TotalEstimate is the provider's estimate of the full result size,
	// reported on the first page only; 0 when unknown.
	TotalEstimate int
}

// MailProviderPort is the outbound port for the external mail provider.
// Every method takes the bearer token explicitly: callers must obtain a
// fresh one from their TokenSource immediately before each call, never
// reuse one captured at job-creation time.
type MailProviderPort interface {
	ProviderType() string

	// ListByCorrespondent pages through historical correspondence with the
	// given address (either direction).
	ListByCorrespondent(ctx context.Context, token *oauth2.Token, address, pageToken string, pageSize int) (*ProviderPage, error)

	// GetMessage fetches the full message including body text.
	GetMessage(ctx context.Context, token *oauth2.Token, externalID string) (*ProviderMessage, error)

	// DownloadAttachment fetches one attachment payload.
	DownloadAttachment(ctx context.Context, token *oauth2.Token, messageExternalID, attachmentID string) ([]byte, error)
}

// =============================================================================
// Token Source
// =============================================================================

// TokenSource resolves a live bearer token for a firm's mailbox grant.
// Implementations refresh through OAuth and persist rotated refresh tokens.
// The returned token is valid now; it must not be cached by callers.
type TokenSource interface {
	Token(ctx context.Context, firmID uuid.UUID) (*oauth2.Token, error)
}
