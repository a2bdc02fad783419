package routing

import (
	"testing"
	"time"

	"caseroute/core/domain"
)

func testCandidate(kase *domain.Case, client *domain.Client) *Candidate {
	return &Candidate{Case: kase, Client: client, Relation: domain.ContactKindClientContact}
}

func TestScoreCandidate(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-48 * time.Hour)
	stale := now.Add(-30 * 24 * time.Hour)

	tests := []struct {
		name        string
		in          *ScoreInput
		kase        *domain.Case
		client      *domain.Client
		wantTotal   int
		wantSignals []string
	}{
		{
			name: "reference number in subject",
			in: &ScoreInput{
				Subject:         "Re: filing 4440/2025",
				ReferenceTokens: []string{"4440/2025"},
				ReceivedAt:      now,
			},
			kase:        &domain.Case{ID: 1, ReferenceNumbers: []string{"4440/2025"}},
			wantTotal:   WeightBaseContact + WeightReference,
			wantSignals: []string{SignalBaseContact, SignalReference},
		},
		{
			name: "title keyword match",
			in: &ScoreInput{
				Subject:    "Acme contract question",
				ReceivedAt: now,
			},
			kase:        &domain.Case{ID: 1, Title: "Acme Corp contract dispute"},
			wantTotal:   WeightBaseContact + WeightTitleKeyword,
			wantSignals: []string{SignalBaseContact, SignalTitleKeyword},
		},
		{
			name: "client name in body",
			in: &ScoreInput{
				Subject:    "quick question",
				Body:       "regarding the Acme Corporation position",
				ReceivedAt: now,
			},
			kase:        &domain.Case{ID: 1},
			client:      &domain.Client{ID: 10, Name: "Acme Corporation"},
			wantTotal:   WeightBaseContact + WeightClientName,
			wantSignals: []string{SignalBaseContact, SignalClientName},
		},
		{
			name: "recent activity bonus",
			in: &ScoreInput{
				Subject:    "unrelated subject",
				ReceivedAt: now,
			},
			kase:        &domain.Case{ID: 1, LastActivityAt: &recent},
			wantTotal:   WeightBaseContact + WeightRecentActivity,
			wantSignals: []string{SignalBaseContact, SignalRecentActivity},
		},
		{
			name: "stale activity earns no bonus",
			in: &ScoreInput{
				Subject:    "unrelated subject",
				ReceivedAt: now,
			},
			kase:        &domain.Case{ID: 1, LastActivityAt: &stale},
			wantTotal:   WeightBaseContact,
			wantSignals: []string{SignalBaseContact},
		},
		{
			name: "keyword fires in subject and body separately",
			in: &ScoreInput{
				Subject:    "appeal deadline",
				Body:       "the appeal brief is due Friday",
				ReceivedAt: now,
			},
			kase:      &domain.Case{ID: 1, Keywords: []string{"appeal"}},
			wantTotal: WeightBaseContact + WeightSubjectKeyword + WeightBodyKeyword,
			wantSignals: []string{
				SignalBaseContact, SignalSubjectKeyword, SignalBodyKeyword,
			},
		},
		{
			name: "short name fragments are ignored",
			in: &ScoreInput{
				Subject:    "client meeting",
				Body:       "the client asked",
				ReceivedAt: now,
			},
			kase:        &domain.Case{ID: 1, ActorNames: []string{"Li"}},
			wantTotal:   WeightBaseContact,
			wantSignals: []string{SignalBaseContact},
		},
	}

	scorer := NewScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.ScoreCandidate(tt.in, testCandidate(tt.kase, tt.client))
			if got.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d (signals: %v)", got.Total, tt.wantTotal, got.Signals)
			}
			if len(got.Signals) != len(tt.wantSignals) {
				t.Fatalf("Signals = %v, want %v", got.Signals, tt.wantSignals)
			}
			for i, s := range tt.wantSignals {
				if got.Signals[i] != s {
					t.Errorf("Signals[%d] = %s, want %s", i, got.Signals[i], s)
				}
			}
		})
	}
}

func TestScoreAllOrdering(t *testing.T) {
	now := time.Now()
	in := &ScoreInput{
		Subject:         "Re: Mustermann 4440/2025 hearing",
		ReferenceTokens: []string{"4440/2025"},
		ReceivedAt:      now,
	}

	client := &domain.Client{ID: 10, Name: "Acme Corporation"}
	withRef := &domain.Case{ID: 1, Title: "Mustermann employment claim", ReferenceNumbers: []string{"4440/2025"}}
	without := &domain.Case{ID: 2, Title: "Lease renewal"}

	scores := NewScorer().ScoreAll(in, []*Candidate{
		testCandidate(without, client),
		testCandidate(withRef, client),
	})

	if len(scores) != 2 {
		t.Fatalf("got %d scores, want 2", len(scores))
	}
	if scores[0].Candidate.Case.ID != 1 {
		t.Errorf("best candidate = case %d, want 1", scores[0].Candidate.Case.ID)
	}
	if gap := scores[0].Total - scores[1].Total; gap < WeightReference {
		t.Errorf("gap = %d, want at least %d", gap, WeightReference)
	}
}

func TestScoreAllTiesKeepOrder(t *testing.T) {
	in := &ScoreInput{Subject: "hello", ReceivedAt: time.Now()}
	a := testCandidate(&domain.Case{ID: 1}, nil)
	b := testCandidate(&domain.Case{ID: 2}, nil)

	scores := NewScorer().ScoreAll(in, []*Candidate{a, b})
	if scores[0].Candidate.Case.ID != 1 || scores[1].Candidate.Case.ID != 2 {
		t.Errorf("tie order changed: got [%d %d], want [1 2]",
			scores[0].Candidate.Case.ID, scores[1].Candidate.Case.ID)
	}
}
