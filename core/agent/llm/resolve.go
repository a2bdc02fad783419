package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"caseroute/core/port/out"
)

const resolveSystemPrompt = `You assign an email to one of a law firm's candidate case files, or to none.

You are given the email's sender, subject and a snippet, and a numbered list of candidate cases. Pick the single case the email most plausibly belongs to. If no candidate is a plausible match, answer none. Never invent a case id that is not in the list.

Respond with this exact JSON format:
{
  "case_id": <id from the list, or 0>,
  "match": true|false
}`

// Resolver implements the AI fallback. It only ever answers with one of the
// caller's own candidates; anything else is reported as no match.
type Resolver struct {
	client *Client
}

func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client}
}

var _ out.FallbackResolver = (*Resolver)(nil)

func (r *Resolver) Resolve(ctx context.Context, req *out.FallbackRequest) (int64, bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\nSnippet:\n%s\n\nCandidate cases:\n", req.From, req.Subject, req.Snippet)
	for _, cand := range req.Candidates {
		if cand.Client != "" {
			fmt.Fprintf(&b, "- id=%d title=%q client=%q\n", cand.CaseID, cand.CaseTitle, cand.Client)
		} else {
			fmt.Fprintf(&b, "- id=%d title=%q\n", cand.CaseID, cand.CaseTitle)
		}
	}

	resp, err := r.client.CompleteJSON(ctx, resolveSystemPrompt, b.String())
	if err != nil {
		return 0, false, err
	}
	return parseResolution(resp)
}

// parseResolution extracts the {case_id, match} verdict, tolerating the
// code fences some models wrap JSON responses in.
func parseResolution(resp string) (int64, bool, error) {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var result struct {
		CaseID int64 `json:"case_id"`
		Match  bool  `json:"match"`
	}
	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return 0, false, fmt.Errorf("failed to parse resolver response: %w", err)
	}
	if !result.Match || result.CaseID == 0 {
		return 0, false, nil
	}
	return result.CaseID, true, nil
}
