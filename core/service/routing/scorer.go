package routing

import (
	"strings"
	"time"
	"unicode"
)

// Signal weights. Thread continuity is not listed here: a bound conversation
// short-circuits scoring entirely in the engine, it is an invariant rather
// than a weighted signal.
const (
	WeightThread         = 100
	WeightReference      = 50
	WeightTitleKeyword   = 40
	WeightClientName     = 35
	WeightSubjectKeyword = 30
	WeightActor          = 25
	WeightBodyKeyword    = 20
	WeightRecentActivity = 20
	WeightBaseContact    = 10
)

// RecentActivityWindow is how close to the case's last activity a message
// must land to earn the recency bonus.
const RecentActivityWindow = 7 * 24 * time.Hour

// Signal names, recorded on the score breakdown for operators.
const (
	SignalReference      = "reference-number"
	SignalTitleKeyword   = "title-keyword"
	SignalClientName     = "client-name"
	SignalSubjectKeyword = "subject-keyword"
	SignalActor          = "actor-name"
	SignalBodyKeyword    = "body-keyword"
	SignalRecentActivity = "recent-activity"
	SignalBaseContact    = "base-contact"
)

// Score is the result of scoring one candidate.
type Score struct {
	Candidate *Candidate
	Total     int
	Signals   []string
}

// ScoreInput is the message content a scoring pass evaluates.
type ScoreInput struct {
	Subject         string
	Body            string
	ReferenceTokens []string
	ReceivedAt      time.Time
}

// Scorer computes the weighted signal score for candidate cases.
// Each signal fires at most once per candidate.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// ScoreCandidate evaluates every signal against one candidate.
func (s *Scorer) ScoreCandidate(in *ScoreInput, cand *Candidate) *Score {
	sc := &Score{Candidate: cand}
	subject := strings.ToLower(in.Subject)
	body := strings.ToLower(in.Body)
	text := subject + "\n" + body
	kase := cand.Case

	// Base contact match: the candidate exists at all.
	sc.add(WeightBaseContact, SignalBaseContact)

	if matchReference(in, kase.ReferenceNumbers) {
		sc.add(WeightReference, SignalReference)
	}
	if matchAnyKeyword(subject, titleKeywords(kase.Title)) {
		sc.add(WeightTitleKeyword, SignalTitleKeyword)
	}
	if cand.Client != nil && matchName(text, cand.Client.Name) {
		sc.add(WeightClientName, SignalClientName)
	}
	if matchAnyKeyword(subject, kase.Keywords) {
		sc.add(WeightSubjectKeyword, SignalSubjectKeyword)
	}
	if matchAnyName(text, kase.ActorNames) {
		sc.add(WeightActor, SignalActor)
	}
	if matchAnyKeyword(body, kase.Keywords) {
		sc.add(WeightBodyKeyword, SignalBodyKeyword)
	}
	if kase.LastActivityAt != nil {
		delta := in.ReceivedAt.Sub(*kase.LastActivityAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= RecentActivityWindow {
			sc.add(WeightRecentActivity, SignalRecentActivity)
		}
	}

	return sc
}

// ScoreAll scores every candidate and returns results sorted best-first.
func (s *Scorer) ScoreAll(in *ScoreInput, cands []*Candidate) []*Score {
	scores := make([]*Score, 0, len(cands))
	for _, cand := range cands {
		scores = append(scores, s.ScoreCandidate(in, cand))
	}
	sortScores(scores)
	return scores
}

func (sc *Score) add(weight int, signal string) {
	sc.Total += weight
	sc.Signals = append(sc.Signals, signal)
}

func sortScores(scores []*Score) {
	// Insertion sort keeps the original order among equals, so ties stay
	// deterministic for the gap computation.
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && scores[j].Total > scores[j-1].Total; j-- {
			scores[j], scores[j-1] = scores[j-1], scores[j]
		}
	}
}

// =============================================================================
// Matching helpers
// =============================================================================

func matchReference(in *ScoreInput, registered []string) bool {
	if len(registered) == 0 {
		return false
	}
	subject := strings.ToLower(in.Subject)
	body := strings.ToLower(in.Body)
	for _, ref := range registered {
		r := strings.ToLower(strings.TrimSpace(ref))
		if r == "" {
			continue
		}
		for _, tok := range in.ReferenceTokens {
			if strings.EqualFold(tok, r) {
				return true
			}
		}
		if strings.Contains(subject, r) || strings.Contains(body, r) {
			return true
		}
	}
	return false
}

func matchAnyKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if len(k) < 2 {
			continue
		}
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func matchAnyName(text string, names []string) bool {
	for _, n := range names {
		if matchName(text, n) {
			return true
		}
	}
	return false
}

// matchName matches a full name case-insensitively; short fragments are
// ignored so "Li" does not fire on "client".
func matchName(text, name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if len(n) < 3 {
		return false
	}
	return strings.Contains(text, n)
}

// titleKeywords splits a case title into significant words.
func titleKeywords(title string) []string {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 4 || stopWords[w] {
			continue
		}
		keywords = append(keywords, w)
	}
	return keywords
}

var stopWords = map[string]bool{
	"case": true, "matter": true, "versus": true, "against": true,
	"with": true, "from": true, "this": true, "that": true,
}
