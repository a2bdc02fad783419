package domain

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ClassificationState is the terminal routing state of a message.
type ClassificationState string

const (
	StatePending         ClassificationState = "pending"          // not yet evaluated
	StateClassified      ClassificationState = "classified"       // bound to exactly one case
	StateUncertain       ClassificationState = "uncertain"        // no signal fired
	StateClientInbox     ClassificationState = "client_inbox"     // bound to a client, ambiguous among its cases
	StateCourtUnassigned ClassificationState = "court_unassigned" // institutional sender, no case yet
)

// Reevaluable reports whether the state may be revisited by an automatic
// re-evaluation trigger. Classified/ClientInbox/CourtUnassigned results are
// settled; only an explicit user action may change them.
func (s ClassificationState) Reevaluable() bool {
	return s == StatePending || s == StateUncertain
}

// Message is one immutable email record owned by a firm. Classification and
// visibility fields are the only parts mutated after ingestion.
type Message struct {
	ID     int64     `json:"id"`
	FirmID uuid.UUID `json:"firm_id"`

	// Provider identity
	ExternalID     string `json:"external_id"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Envelope
	FromAddress string    `json:"from_address"`
	ToAddresses []string  `json:"to_addresses"`
	CcAddresses []string  `json:"cc_addresses,omitempty"`
	Direction   Direction `json:"direction"`

	// Content
	Subject         string   `json:"subject"`
	Snippet         string   `json:"snippet"`
	ReferenceTokens []string `json:"reference_tokens,omitempty"` // file numbers extracted from subject/body
	HasAttachments  bool     `json:"has_attachments"`

	// Classification
	State      ClassificationState `json:"state"`
	Confidence float64             `json:"confidence,omitempty"`
	ClientID   *int64              `json:"client_id,omitempty"` // set for client_inbox

	// Visibility
	Private            bool       `json:"private"`
	VisibilityActorID  *uuid.UUID `json:"visibility_actor_id,omitempty"`
	VisibilityChangedAt *time.Time `json:"visibility_changed_at,omitempty"`

	// Ownership
	OwnerID uuid.UUID `json:"owner_id"`

	ReceivedAt   time.Time  `json:"received_at"`
	ClassifiedAt *time.Time `json:"classified_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Parties returns every address on the envelope, sender first.
func (m *Message) Parties() []string {
	parties := make([]string, 0, 1+len(m.ToAddresses)+len(m.CcAddresses))
	parties = append(parties, m.FromAddress)
	parties = append(parties, m.ToAddresses...)
	parties = append(parties, m.CcAddresses...)
	return parties
}

// Attachment is a document derived from a message. Visibility is independent
// of the parent message except that publishing the parent cascades.
type Attachment struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes"`

	Private             bool       `json:"private"`
	VisibilityActorID   *uuid.UUID `json:"visibility_actor_id,omitempty"`
	VisibilityChangedAt *time.Time `json:"visibility_changed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
