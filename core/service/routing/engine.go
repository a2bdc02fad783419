package routing

import (
	"context"
	"time"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/core/service/directory"
	"caseroute/pkg/logger"
)

// Config holds the decision thresholds.
type Config struct {
	// MinGap is the disambiguation threshold between the top two scores of
	// a same-client candidate pair. Below it the message goes to the
	// client's manual-review inbox. Tunable; validate against real signal
	// distributions before raising it.
	MinGap int

	// MinScore is the floor a single candidate must clear to auto-bind.
	MinScore int

	// FallbackTimeout bounds the AI fallback call. On timeout the message
	// degrades to Uncertain.
	FallbackTimeout time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() *Config {
	return &Config{
		MinGap:          20,
		MinScore:        20,
		FallbackTimeout: 15 * time.Second,
	}
}

// Result carries the decision with its diagnostics.
type Result struct {
	Decision domain.Decision
	Scores   []*Score
	Signals  []string
	// ThreadCase is set when thread continuity short-circuited scoring.
	ThreadCase int64
	// FallbackUsed reports whether the AI resolver was consulted.
	FallbackUsed bool
}

// Engine applies the classification state machine to one message.
// Classification always terminates in a defined state; the worst outcome is
// Uncertain, which is a valid result, not a failure.
type Engine struct {
	messages  out.MessageRepository
	contacts  out.ContactRepository
	directory *directory.Service
	resolver  *CandidateResolver
	scorer    *Scorer
	fallback  out.FallbackResolver
	cfg       *Config
	log       *logger.Logger
}

func NewEngine(
	messages out.MessageRepository,
	contacts out.ContactRepository,
	dir *directory.Service,
	resolver *CandidateResolver,
	fallback out.FallbackResolver,
	cfg *Config,
) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		messages:  messages,
		contacts:  contacts,
		directory: dir,
		resolver:  resolver,
		scorer:    NewScorer(),
		fallback:  fallback,
		cfg:       cfg,
		log:       logger.WithField("component", "decision_engine"),
	}
}

// Classify decides the routing of one message. bodyText may be empty when
// the body archive is unavailable; scoring then works on subject and snippet.
func (e *Engine) Classify(ctx context.Context, msg *domain.Message, bodyText string) (*Result, error) {
	res := &Result{Decision: domain.Uncertain()}

	// Thread continuity: once a conversation is bound, every member binds
	// to the same case. Hard invariant, bypasses all other logic.
	if msg.ConversationID != "" {
		caseID, ok, err := e.messages.FindConversationCase(ctx, msg.FirmID, msg.ConversationID)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Decision = domain.Classified(caseID, 1.0, domain.MatchMethodThread)
			res.ThreadCase = caseID
			return res, nil
		}
	}

	// Institutional sender check runs early and independently; it only
	// prevails when no case or client match is found below.
	isCourt, err := e.contacts.IsCourtSender(ctx, msg.FirmID, msg.FromAddress)
	if err != nil {
		e.log.WithError(err).Warn("court sender lookup failed, continuing without it")
		isCourt = false
	}

	matches, err := e.directory.ResolveAll(ctx, msg.FirmID, msg.Parties())
	if err != nil {
		return nil, err
	}

	set, err := e.resolver.Resolve(ctx, matches)
	if err != nil {
		return nil, err
	}

	if len(set.Cases) == 0 {
		switch {
		case len(set.CaselessClients) > 0:
			// Known client, nowhere to route: keep the client binding so
			// the message is not lost.
			res.Decision = domain.ClientInbox(set.CaselessClients[0].ID)
		case isCourt:
			res.Decision = domain.CourtUnassigned()
		default:
			res.Decision = domain.Uncertain()
		}
		return res, nil
	}

	in := &ScoreInput{
		Subject:         msg.Subject,
		Body:            bodyText,
		ReferenceTokens: msg.ReferenceTokens,
		ReceivedAt:      msg.ReceivedAt,
	}
	if in.Body == "" {
		in.Body = msg.Snippet
	}

	scores := e.scorer.ScoreAll(in, set.Cases)
	res.Scores = scores
	for _, sc := range scores {
		res.Signals = append(res.Signals, sc.Signals...)
	}

	top := scores[0]

	if len(scores) == 1 {
		if top.Total >= e.cfg.MinScore {
			res.Decision = domain.Classified(top.Candidate.Case.ID, confidence(top.Total), domain.MatchMethodScore)
			return res, nil
		}
		return e.belowFloor(ctx, msg, set, scores, isCourt, res)
	}

	second := scores[1]

	if client, shared := set.SharedClient(); shared {
		// Same-client ambiguity: only a decisive gap auto-binds; anything
		// closer is surfaced for manual disambiguation.
		gap := top.Total - second.Total
		if gap >= e.cfg.MinGap && top.Total >= e.cfg.MinScore {
			res.Decision = domain.Classified(top.Candidate.Case.ID, confidence(top.Total), domain.MatchMethodScore)
			return res, nil
		}
		res.Decision = domain.ClientInbox(client.ID)
		return res, nil
	}

	// Cross-client ambiguity is ordinary best-match.
	if top.Total >= e.cfg.MinScore {
		res.Decision = domain.Classified(top.Candidate.Case.ID, confidence(top.Total), domain.MatchMethodScore)
		return res, nil
	}

	return e.belowFloor(ctx, msg, set, scores, isCourt, res)
}

// belowFloor handles candidates that exist but cleared no threshold. The AI
// fallback is consulted here only, as a last resort after every
// deterministic signal failed; its answer must name one of our own
// candidates or the message degrades to Uncertain.
func (e *Engine) belowFloor(ctx context.Context, msg *domain.Message, set *CandidateSet, scores []*Score, isCourt bool, res *Result) (*Result, error) {
	if e.fallback != nil {
		if caseID, ok := e.consultFallback(ctx, msg, set); ok {
			res.FallbackUsed = true
			res.Decision = domain.Classified(caseID, fallbackConfidence, domain.MatchMethodAI)
			return res, nil
		}
		res.FallbackUsed = true
	}

	if isCourt {
		res.Decision = domain.CourtUnassigned()
		return res, nil
	}
	res.Decision = domain.Uncertain()
	return res, nil
}

// fallbackConfidence is deliberately modest: an AI pick never outranks a
// scored decision on review.
const fallbackConfidence = 0.5

func (e *Engine) consultFallback(ctx context.Context, msg *domain.Message, set *CandidateSet) (int64, bool) {
	req := &out.FallbackRequest{
		From:    msg.FromAddress,
		Subject: msg.Subject,
		Snippet: msg.Snippet,
	}
	valid := make(map[int64]bool, len(set.Cases))
	for _, cand := range set.Cases {
		valid[cand.Case.ID] = true
		fc := out.FallbackCandidate{CaseID: cand.Case.ID, CaseTitle: cand.Case.Title}
		if cand.Client != nil {
			fc.Client = cand.Client.Name
		}
		req.Candidates = append(req.Candidates, fc)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.FallbackTimeout)
	defer cancel()

	caseID, ok, err := e.fallback.Resolve(callCtx, req)
	if err != nil {
		e.log.WithError(err).Warn("ai fallback failed, degrading to uncertain: message_id=%d", msg.ID)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	if !valid[caseID] {
		e.log.Warn("ai fallback returned unknown case %d, degrading to uncertain: message_id=%d", caseID, msg.ID)
		return 0, false
	}
	return caseID, true
}

// confidence maps an integer score onto (0,1). A thread match is the only
// way to reach 1.0.
func confidence(score int) float64 {
	c := float64(score) / 100.0
	if c > 0.99 {
		c = 0.99
	}
	if c < 0.1 {
		c = 0.1
	}
	return c
}
