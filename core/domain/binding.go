package domain

import "time"

// MatchMethod records which path produced a case binding.
type MatchMethod string

const (
	MatchMethodThread MatchMethod = "thread" // conversation already bound
	MatchMethodScore  MatchMethod = "score"  // weighted signal scoring
	MatchMethodAI     MatchMethod = "ai"     // LLM fallback
	MatchMethodManual MatchMethod = "manual" // resolved by a person
)

// CaseBinding relates a message to a case. It is the single source of truth
// for case membership; there is no parallel foreign key on the message row.
type CaseBinding struct {
	ID        int64 `json:"id"`
	MessageID int64 `json:"message_id"`
	CaseID    int64 `json:"case_id"`

	Confidence float64     `json:"confidence"` // 0.0 - 1.0
	Method     MatchMethod `json:"method"`
	Primary    bool        `json:"primary"` // a message may belong to more than one case

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// Decision - tagged variant for classification outcomes
// =============================================================================

// DecisionKind enumerates the legal outcomes of the decision engine.
type DecisionKind int

const (
	DecisionUncertain DecisionKind = iota
	DecisionClassified
	DecisionClientInbox
	DecisionCourtUnassigned
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionClassified:
		return "classified"
	case DecisionClientInbox:
		return "client_inbox"
	case DecisionCourtUnassigned:
		return "court_unassigned"
	default:
		return "uncertain"
	}
}

// Decision is the outcome of classifying one message. Constructors are the
// only way to build one, so a classified decision always carries a case id
// and a client-inbox decision always carries a client id.
type Decision struct {
	kind       DecisionKind
	caseID     int64
	clientID   int64
	confidence float64
	method     MatchMethod
}

// Uncertain is the decision when no signal fired.
func Uncertain() Decision {
	return Decision{kind: DecisionUncertain}
}

// Classified binds the message to exactly one case.
func Classified(caseID int64, confidence float64, method MatchMethod) Decision {
	return Decision{kind: DecisionClassified, caseID: caseID, confidence: confidence, method: method}
}

// ClientInbox routes the message to a client's manual-review lane.
func ClientInbox(clientID int64) Decision {
	return Decision{kind: DecisionClientInbox, clientID: clientID}
}

// CourtUnassigned tags recognized institutional correspondence without a case.
func CourtUnassigned() Decision {
	return Decision{kind: DecisionCourtUnassigned}
}

func (d Decision) Kind() DecisionKind { return d.kind }

// Case returns the bound case id; ok is false unless the decision is Classified.
func (d Decision) Case() (caseID int64, confidence float64, method MatchMethod, ok bool) {
	if d.kind != DecisionClassified {
		return 0, 0, "", false
	}
	return d.caseID, d.confidence, d.method, true
}

// Client returns the client id; ok is false unless the decision is ClientInbox.
func (d Decision) Client() (clientID int64, ok bool) {
	if d.kind != DecisionClientInbox {
		return 0, false
	}
	return d.clientID, true
}

// State maps the decision to the message classification state.
func (d Decision) State() ClassificationState {
	switch d.kind {
	case DecisionClassified:
		return StateClassified
	case DecisionClientInbox:
		return StateClientInbox
	case DecisionCourtUnassigned:
		return StateCourtUnassigned
	default:
		return StateUncertain
	}
}
