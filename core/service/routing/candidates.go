// Package routing implements the case-routing pipeline: candidate
// resolution, signal scoring and the classification decision engine.
package routing

import (
	"context"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/core/service/directory"
	"caseroute/pkg/logger"
)

// Candidate is one case eligible to receive a message, annotated with the
// contact relation that produced it and the originating client.
type Candidate struct {
	Case     *domain.Case
	Client   *domain.Client
	Relation domain.ContactKind
}

// CandidateSet is the resolver output. Clients with no active case are kept
// as client-inbox targets so their mail is never dropped.
type CandidateSet struct {
	Cases []*Candidate
	// CaselessClients are clients whose contact matched but who have zero
	// active cases.
	CaselessClients []*domain.Client
}

// Empty reports whether nothing at all matched.
func (cs *CandidateSet) Empty() bool {
	return len(cs.Cases) == 0 && len(cs.CaselessClients) == 0
}

// SharedClient returns the common client when every case candidate belongs
// to the same one.
func (cs *CandidateSet) SharedClient() (*domain.Client, bool) {
	if len(cs.Cases) == 0 {
		return nil, false
	}
	first := cs.Cases[0].Client
	if first == nil {
		return nil, false
	}
	for _, c := range cs.Cases[1:] {
		if c.Client == nil || c.Client.ID != first.ID {
			return nil, false
		}
	}
	return first, true
}

// CandidateResolver turns directory matches into the set of eligible cases.
type CandidateResolver struct {
	cases out.CaseRepository
	log   *logger.Logger
}

func NewCandidateResolver(cases out.CaseRepository) *CandidateResolver {
	return &CandidateResolver{
		cases: cases,
		log:   logger.WithField("component", "candidate_resolver"),
	}
}

// Resolve gathers the deduplicated candidate cases for the given directory
// matches. A client with several active cases contributes all of them; they
// are disambiguated by scoring, never collapsed onto an arbitrary one.
func (r *CandidateResolver) Resolve(ctx context.Context, matches []directory.Match) (*CandidateSet, error) {
	set := &CandidateSet{}
	seenCases := make(map[int64]*Candidate)
	seenClients := make(map[int64]bool)

	for _, m := range matches {
		contact := m.Contact
		switch contact.Kind {
		case domain.ContactKindCaseActor:
			if contact.CaseID == nil {
				r.log.Warn("case actor contact without case id: contact_id=%d", contact.ID)
				continue
			}
			if err := r.addCase(ctx, set, seenCases, *contact.CaseID, domain.ContactKindCaseActor); err != nil {
				return nil, err
			}

		case domain.ContactKindClientContact:
			if contact.ClientID == nil {
				r.log.Warn("client contact without client id: contact_id=%d", contact.ID)
				continue
			}
			if seenClients[*contact.ClientID] {
				continue
			}
			seenClients[*contact.ClientID] = true
			if err := r.addClientCases(ctx, set, seenCases, *contact.ClientID); err != nil {
				return nil, err
			}
		}
	}

	return set, nil
}

func (r *CandidateResolver) addCase(ctx context.Context, set *CandidateSet, seen map[int64]*Candidate, caseID int64, relation domain.ContactKind) error {
	if existing, ok := seen[caseID]; ok {
		// Actor relation is the more specific annotation; keep it.
		if relation == domain.ContactKindCaseActor {
			existing.Relation = domain.ContactKindCaseActor
		}
		return nil
	}

	kase, err := r.cases.GetByID(ctx, caseID)
	if err != nil {
		// A dangling contact must not halt classification.
		r.log.WithError(err).Warn("skipping unresolvable case candidate: case_id=%d", caseID)
		return nil
	}
	if !kase.Active() {
		return nil
	}

	client, err := r.cases.GetClient(ctx, kase.ClientID)
	if err != nil {
		r.log.WithError(err).Warn("case without resolvable client: case_id=%d client_id=%d", caseID, kase.ClientID)
	}

	cand := &Candidate{Case: kase, Client: client, Relation: relation}
	seen[caseID] = cand
	set.Cases = append(set.Cases, cand)
	return nil
}

func (r *CandidateResolver) addClientCases(ctx context.Context, set *CandidateSet, seen map[int64]*Candidate, clientID int64) error {
	client, err := r.cases.GetClient(ctx, clientID)
	if err != nil {
		r.log.WithError(err).Warn("skipping unresolvable client: client_id=%d", clientID)
		return nil
	}

	active, err := r.cases.ListActiveByClient(ctx, clientID)
	if err != nil {
		return err
	}

	if len(active) == 0 {
		set.CaselessClients = append(set.CaselessClients, client)
		return nil
	}

	for _, kase := range active {
		if _, ok := seen[kase.ID]; ok {
			continue
		}
		cand := &Candidate{Case: kase, Client: client, Relation: domain.ContactKindClientContact}
		seen[kase.ID] = cand
		set.Cases = append(set.Cases, cand)
	}
	return nil
}
