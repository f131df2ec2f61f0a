// Package triage decides whether a freshly-intake issue needs research or
// is ready for backlog planning. Everything here is pure; the caller
// supplies the current time.
package triage

import (
	"fmt"
	"strings"
	"time"

	configpkg "governor/internal/config"
	"governor/internal/domain"
)

// Config holds the top-of-funnel knobs.
type Config struct {
	AutoResearch        bool
	AutoBacklogCreation bool

	MinResearchedDescriptionLength int
	StructuredHeaders              []string
	ResearchRequestLabel           string
	IceboxResearchDelay            time.Duration
}

// FromGovernorConfig projects the governor config onto triage knobs.
func FromGovernorConfig(cfg *configpkg.Config) Config {
	return Config{
		AutoResearch:                   cfg.Automation.Research,
		AutoBacklogCreation:            cfg.Automation.BacklogCreation,
		MinResearchedDescriptionLength: cfg.Triage.MinResearchedDescriptionLength,
		StructuredHeaders:              cfg.Triage.StructuredHeaders,
		ResearchRequestLabel:           cfg.Triage.ResearchRequestLabel,
		IceboxResearchDelay:            cfg.Triage.IceboxResearchDelay.Duration,
	}
}

// Context carries the externally gathered predicates triage depends on.
type Context struct {
	HasActiveSession         bool
	Held                     bool
	IsParent                 bool
	ResearchCompleted        bool
	BacklogCreationCompleted bool
}

// Result is the triage verdict for one issue.
type Result struct {
	Action  domain.Action `json:"action"`
	IssueID string        `json:"issue_id"`
	Reason  string        `json:"reason"`
}

func none(issueID, reason string) Result {
	return Result{Action: domain.ActionNone, IssueID: issueID, Reason: reason}
}

// IsWellResearched reports whether a description passes the well-researched
// test: minimum length and at least one configured structured header.
func IsWellResearched(description string, cfg Config) bool {
	if len(description) < cfg.MinResearchedDescriptionLength {
		return false
	}
	for _, h := range cfg.StructuredHeaders {
		if strings.Contains(description, h) {
			return true
		}
	}
	return false
}

// DetermineAction evaluates one intake issue. First matching guard wins.
func DetermineAction(issue domain.Issue, cfg Config, tctx Context, now time.Time) Result {
	if issue.Status != domain.StatusIcebox {
		return none(issue.ID, fmt.Sprintf("status %s is not icebox", issue.Status))
	}
	if tctx.HasActiveSession {
		return none(issue.ID, "agent session already active")
	}
	if tctx.Held {
		return none(issue.ID, "issue is held by override")
	}
	if tctx.IsParent {
		return none(issue.ID, "parent issue; coordination handles decomposed work")
	}

	wellResearched := IsWellResearched(issue.Description, cfg)
	researchWanted := issue.HasLabel(cfg.ResearchRequestLabel) || !wellResearched

	if cfg.AutoResearch && !tctx.ResearchCompleted && researchWanted {
		age := now.Sub(issue.CreatedAt)
		if age < cfg.IceboxResearchDelay {
			return none(issue.ID, fmt.Sprintf("icebox age %s below research delay %s", age.Round(time.Second), cfg.IceboxResearchDelay))
		}
		return Result{Action: domain.ActionTriggerResearch, IssueID: issue.ID, Reason: "icebox issue needs research"}
	}

	// A skipped research phase must not be bypassed by backlog creation.
	if !cfg.AutoResearch && !tctx.ResearchCompleted && !wellResearched {
		return none(issue.ID, "auto-research disabled and description not well-researched")
	}

	if cfg.AutoBacklogCreation && !tctx.BacklogCreationCompleted && wellResearched {
		return Result{Action: domain.ActionTriggerBacklogCreation, IssueID: issue.ID, Reason: "well-researched icebox issue ready for backlog creation"}
	}

	switch {
	case tctx.ResearchCompleted && tctx.BacklogCreationCompleted:
		return none(issue.ID, "research and backlog creation already completed")
	case tctx.BacklogCreationCompleted:
		return none(issue.ID, "backlog creation already completed")
	case !cfg.AutoBacklogCreation:
		return none(issue.ID, "auto-backlog-creation disabled")
	default:
		return none(issue.ID, "no top-of-funnel action applicable")
	}
}
