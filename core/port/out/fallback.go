// Package out defines outbound ports (driven ports) for the application.
package out

import "context"

// =============================================================================
// AI Fallback
// =============================================================================

// FallbackCandidate is one case offered to the AI resolver.
type FallbackCandidate struct {
	CaseID    int64
	CaseTitle string
	Client    string
}

// FallbackRequest summarizes a message and its candidate cases for the
// last-resort resolver.
type FallbackRequest struct {
	From       string
	Subject    string
	Snippet    string
	Candidates []FallbackCandidate
}

// FallbackResolver is the last-resort AI classifier. It may answer "none",
// fail or time out; callers validate the returned case id against their own
// candidate set and degrade to an uncertain outcome on anything else.
type FallbackResolver interface {
	Resolve(ctx context.Context, req *FallbackRequest) (caseID int64, ok bool, err error)
}
