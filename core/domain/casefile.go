package domain

import (
	"time"

	"github.com/google/uuid"
)

type CaseStatus string

const (
	CaseStatusActive   CaseStatus = "active"
	CaseStatusClosed   CaseStatus = "closed"
	CaseStatusArchived CaseStatus = "archived"
)

// Case is a single legal matter belonging to a client.
type Case struct {
	ID       int64     `json:"id"`
	FirmID   uuid.UUID `json:"firm_id"`
	ClientID int64     `json:"client_id"`

	Title  string     `json:"title"`
	Status CaseStatus `json:"status"`

	// Routing signals
	ReferenceNumbers []string `json:"reference_numbers,omitempty"` // registered file/court references
	Keywords         []string `json:"keywords,omitempty"`          // case-specific routing keywords
	ActorNames       []string `json:"actor_names,omitempty"`       // named parties, counsel, clerks

	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Active reports whether the case may receive routed correspondence.
func (c *Case) Active() bool {
	return c.Status == CaseStatusActive
}

// Client is the represented party. A client may have any number of
// concurrently active cases; that cardinality drives ambiguity resolution.
type Client struct {
	ID     int64     `json:"id"`
	FirmID uuid.UUID `json:"firm_id"`

	Name        string `json:"name"`
	CompanyName string `json:"company_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContactKind distinguishes a case-level actor from a client-level contact.
type ContactKind string

const (
	ContactKindCaseActor     ContactKind = "case_actor"     // tied to one case (opposing counsel, clerk)
	ContactKindClientContact ContactKind = "client_contact" // covers all of a client's matters
)

// Contact is a known email address tied to a case or a client within a firm.
// Exactly one of CaseID/ClientID is set, according to Kind.
type Contact struct {
	ID     int64     `json:"id"`
	FirmID uuid.UUID `json:"firm_id"`

	Kind     ContactKind `json:"kind"`
	CaseID   *int64      `json:"case_id,omitempty"`
	ClientID *int64      `json:"client_id,omitempty"`

	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
	Domain  string `json:"domain,omitempty"` // optional domain-wide match

	SyncHistory bool `json:"sync_history"` // backfill correspondence when added

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CourtSender is a registered institutional/court address or domain for a firm.
type CourtSender struct {
	ID     int64     `json:"id"`
	FirmID uuid.UUID `json:"firm_id"`

	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Domain  string `json:"domain,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
