// Package touchpoint renders and records the human escalation
// notifications. Generators are pure string builders; delivery (email,
// chat) is someone else's job — only content and timing live here.
package touchpoint

import (
	"fmt"
	"strings"
	"time"

	"governor/internal/config"
	"governor/internal/domain"
)

// Timeouts configures the response windows. Escalation alerts never expire.
type Timeouts struct {
	ReviewRequest         time.Duration
	DecompositionProposal time.Duration
}

// DefaultTimeouts mirrors the shipped governor.yml defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ReviewRequest:         4 * time.Hour,
		DecompositionProposal: 2 * time.Hour,
	}
}

// TimeoutsFromConfig reads the response windows out of governor.yml.
func TimeoutsFromConfig(cfg *config.Config) Timeouts {
	return Timeouts{
		ReviewRequest:         cfg.Touchpoints.ReviewRequestTimeout.Duration,
		DecompositionProposal: cfg.Touchpoints.DecompositionProposalTimeout.Duration,
	}
}

// Params feeds the notification generators.
type Params struct {
	IssueIdentifier   string
	CycleCount        int
	FailureSummary    string
	Strategy          string
	TotalCostUSD      float64
	BlockerIdentifier string
}

const directiveMenu = "HOLD, RESUME, SKIP QA, DECOMPOSE, REASSIGN, PRIORITY: high|medium|low"

// ReviewRequest is posted on the second failure cycle.
func ReviewRequest(p Params, timeouts Timeouts) domain.TouchpointNotification {
	summary := p.FailureSummary
	if strings.TrimSpace(summary) == "" {
		summary = "No failure details available."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Issue %s has failed %d cycles and needs a human look.\n\n", p.IssueIdentifier, p.CycleCount)
	fmt.Fprintf(&b, "Latest failure:\n%s\n\n", summary)
	if p.Strategy != "" {
		fmt.Fprintf(&b, "Current strategy: %s\n", p.Strategy)
	}
	if p.TotalCostUSD > 0 {
		fmt.Fprintf(&b, "Total agent cost so far: $%.2f\n", p.TotalCostUSD)
	}
	fmt.Fprintf(&b, "\nReply on the issue with one of: %s\n", directiveMenu)
	fmt.Fprintf(&b, "No response within the window means the governor keeps going on its own.\n")

	timeout := timeouts.ReviewRequest
	if timeout <= 0 {
		timeout = DefaultTimeouts().ReviewRequest
	}
	return domain.TouchpointNotification{
		Type:    domain.TouchpointReviewRequest,
		Body:    b.String(),
		Timeout: timeout,
	}
}

// DecompositionProposal is posted on the third failure cycle.
func DecompositionProposal(p Params, timeouts Timeouts) domain.TouchpointNotification {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue %s keeps failing (%d cycles); proposing decomposition into smaller sub-issues.\n\n", p.IssueIdentifier, p.CycleCount)
	if strings.TrimSpace(p.FailureSummary) != "" {
		fmt.Fprintf(&b, "Latest failure:\n%s\n\n", p.FailureSummary)
	}
	fmt.Fprintf(&b, "Unless told otherwise the governor will start decomposition after the response window.\n")
	fmt.Fprintf(&b, "To intervene, reply with HOLD (pause everything) or REASSIGN (hand to a human).\n")

	timeout := timeouts.DecompositionProposal
	if timeout <= 0 {
		timeout = DefaultTimeouts().DecompositionProposal
	}
	return domain.TouchpointNotification{
		Type:    domain.TouchpointDecompositionProposal,
		Body:    b.String(),
		Timeout: timeout,
	}
}

// EscalationAlert is posted from the fourth failure cycle on. It has no
// response window; a human must act.
func EscalationAlert(p Params) domain.TouchpointNotification {
	var b strings.Builder
	fmt.Fprintf(&b, "ESCALATION: issue %s has failed %d cycles and automated recovery is exhausted.\n\n", p.IssueIdentifier, p.CycleCount)
	if strings.TrimSpace(p.FailureSummary) != "" {
		fmt.Fprintf(&b, "Latest failure:\n%s\n\n", p.FailureSummary)
	}
	if p.BlockerIdentifier != "" {
		fmt.Fprintf(&b, "Blocked by: %s\n", p.BlockerIdentifier)
	}
	fmt.Fprintf(&b, "All automated action on this issue is suspended until a human responds.\n")

	return domain.TouchpointNotification{
		Type:    domain.TouchpointEscalationAlert,
		Body:    b.String(),
		Timeout: 0, // never auto-expires
	}
}

// Render builds the named touchpoint notification. The escalation ladder
// that tracks failure cycles lives outside the core; it posts through here
// (ops API or govd touchpoints post) with the params it owns.
func Render(t domain.TouchpointType, p Params, timeouts Timeouts) (domain.TouchpointNotification, error) {
	switch t {
	case domain.TouchpointReviewRequest:
		return ReviewRequest(p, timeouts), nil
	case domain.TouchpointDecompositionProposal:
		return DecompositionProposal(p, timeouts), nil
	case domain.TouchpointEscalationAlert:
		return EscalationAlert(p), nil
	default:
		return domain.TouchpointNotification{}, fmt.Errorf("unknown touchpoint type %q", t)
	}
}

// HasTimedOut reports whether a touchpoint's response window has elapsed.
// A responded touchpoint never times out, regardless of elapsed time, and
// neither does one with no window. Equality is not yet timed out.
func HasTimedOut(n domain.TouchpointNotification, now time.Time) bool {
	if n.RespondedAt != nil {
		return false
	}
	if n.Timeout <= 0 {
		return false
	}
	return now.Sub(n.PostedAt) > n.Timeout
}
