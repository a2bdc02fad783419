// Package directory resolves email addresses to known case actors and
// client contacts within a firm.
package directory

import (
	"context"
	"sort"
	"strings"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/pkg/logger"

	"github.com/google/uuid"
)

// MatchStrength ranks how a contact matched the queried address.
type MatchStrength int

const (
	MatchDomain MatchStrength = iota + 1
	MatchExact
)

func (s MatchStrength) String() string {
	if s == MatchExact {
		return "exact"
	}
	return "domain"
}

// Match is one resolved contact with its match strength.
type Match struct {
	Contact  *domain.Contact
	Strength MatchStrength
}

// Service is the contact directory. Pure query, no side effects.
type Service struct {
	contacts out.ContactRepository
	log      *logger.Logger
}

func NewService(contacts out.ContactRepository) *Service {
	return &Service{
		contacts: contacts,
		log:      logger.WithField("component", "directory"),
	}
}

// Resolve returns all contacts matching the address within the firm, exact
// matches ranked above domain matches. Malformed stored addresses are logged
// and skipped; a bad row never fails the whole lookup.
func (s *Service) Resolve(ctx context.Context, firmID uuid.UUID, address string) ([]Match, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return nil, nil
	}
	dom := addressDomain(addr)

	rows, err := s.contacts.ListMatching(ctx, firmID, addr)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rows))
	for _, c := range rows {
		stored := NormalizeAddress(c.Address)
		switch {
		case stored == addr:
			matches = append(matches, Match{Contact: c, Strength: MatchExact})
		case c.Domain != "" && strings.EqualFold(c.Domain, dom):
			matches = append(matches, Match{Contact: c, Strength: MatchDomain})
		case stored == "" && c.Domain == "":
			s.log.Warn("skipping malformed contact address: contact_id=%d address=%q", c.ID, c.Address)
		default:
			// stored address shares the domain but is a different mailbox;
			// without a domain-wide rule that is not a match
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Strength > matches[j].Strength
	})
	return matches, nil
}

// ResolveAll resolves every party address, deduplicating contacts across
// parties and keeping the strongest match per contact.
func (s *Service) ResolveAll(ctx context.Context, firmID uuid.UUID, addresses []string) ([]Match, error) {
	best := make(map[int64]Match)
	order := make([]int64, 0, len(addresses))

	for _, address := range addresses {
		matches, err := s.Resolve(ctx, firmID, address)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			prev, seen := best[m.Contact.ID]
			if !seen {
				order = append(order, m.Contact.ID)
				best[m.Contact.ID] = m
			} else if m.Strength > prev.Strength {
				best[m.Contact.ID] = m
			}
		}
	}

	out := make([]Match, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Strength > out[j].Strength
	})
	return out, nil
}

// NormalizeAddress lowercases and trims an address, returning "" for values
// that cannot be an email address.
func NormalizeAddress(address string) string {
	addr := strings.ToLower(strings.TrimSpace(address))
	// Tolerate "Name <addr@host>" stored values
	if i := strings.LastIndexByte(addr, '<'); i >= 0 {
		if j := strings.IndexByte(addr[i:], '>'); j > 0 {
			addr = addr[i+1 : i+j]
		}
	}
	at := strings.IndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 || strings.Count(addr, "@") != 1 {
		return ""
	}
	if !strings.Contains(addr[at+1:], ".") {
		return ""
	}
	return addr
}

func addressDomain(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}
