// Package decision maps an issue's status plus gathered context onto a
// single governor action. Decide is pure and must stay pure: every external
// signal arrives pre-gathered inside the Context.
package decision

import (
	"fmt"
	"time"

	"governor/internal/domain"
	"governor/internal/triage"
)

// Strategy values recognized in a workflow strategy string. The escalation
// ladder produces these; anything else falls back to the per-status default.
const (
	StrategyEscalateHuman = "escalate-human"
	StrategyDecompose     = "decompose"
)

// Flags are the automation feature switches.
type Flags struct {
	AutoResearch        bool
	AutoBacklogCreation bool
	AutoDevelopment     bool
	AutoQA              bool
	AutoAcceptance      bool
}

// Context is one issue plus everything Decide needs, gathered fresh per
// evaluation and never cached.
type Context struct {
	Issue domain.Issue

	HasActiveSession         bool
	WithinCooldown           bool
	Held                     bool
	IsParent                 bool
	WorkflowStrategy         string
	ResearchCompleted        bool
	BacklogCreationCompleted bool

	Flags  Flags
	Triage triage.Config
	Now    time.Time
}

func none(reason string) domain.DecisionResult {
	return domain.DecisionResult{Action: domain.ActionNone, Reason: reason}
}

// Decide evaluates the guard ladder in strict order. The ordering is
// load-bearing: session and cooldown precede the hold check, and terminal
// statuses precede status dispatch, so that reported reasons stay accurate.
func Decide(ctx Context) domain.DecisionResult {
	if ctx.HasActiveSession {
		return none("agent session already active")
	}
	if ctx.WithinCooldown {
		return none("issue within cooldown window")
	}
	if ctx.Held {
		return none("issue is held by override")
	}
	if ctx.Issue.Status.Terminal() {
		return none(fmt.Sprintf("terminal status %s", ctx.Issue.Status))
	}

	switch ctx.Issue.Status {
	case domain.StatusIcebox:
		res := triage.DetermineAction(ctx.Issue, ctx.Triage, triage.Context{
			HasActiveSession:         ctx.HasActiveSession,
			Held:                     ctx.Held,
			IsParent:                 ctx.IsParent,
			ResearchCompleted:        ctx.ResearchCompleted,
			BacklogCreationCompleted: ctx.BacklogCreationCompleted,
		}, ctx.Now)
		return domain.DecisionResult{Action: res.Action, Reason: res.Reason}

	case domain.StatusBacklog:
		if ctx.Issue.ParentID != nil {
			return none("sub-issue; managed by its parent's development pass")
		}
		if !ctx.Flags.AutoDevelopment {
			return none("auto-development disabled")
		}
		if ctx.IsParent {
			return domain.DecisionResult{Action: domain.ActionTriggerDevelopment, Reason: "backlog parent issue ready for development coordination"}
		}
		return domain.DecisionResult{Action: domain.ActionTriggerDevelopment, Reason: "backlog issue ready for development"}

	case domain.StatusStarted:
		return none("agent already owns started issue")

	case domain.StatusFinished:
		if !ctx.Flags.AutoQA {
			return none("auto-qa disabled")
		}
		switch ctx.WorkflowStrategy {
		case StrategyEscalateHuman:
			return domain.DecisionResult{Action: domain.ActionEscalateHuman, Reason: "workflow strategy requires human escalation"}
		case StrategyDecompose:
			return domain.DecisionResult{Action: domain.ActionDecompose, Reason: "workflow strategy requires decomposition"}
		}
		return domain.DecisionResult{Action: domain.ActionTriggerQA, Reason: "finished issue ready for QA"}

	case domain.StatusDelivered:
		if !ctx.Flags.AutoAcceptance {
			return none("auto-acceptance disabled")
		}
		return domain.DecisionResult{Action: domain.ActionTriggerAcceptance, Reason: "delivered issue ready for acceptance"}

	case domain.StatusRejected:
		// Refinement has no disable flag.
		switch ctx.WorkflowStrategy {
		case StrategyEscalateHuman:
			return domain.DecisionResult{Action: domain.ActionEscalateHuman, Reason: "workflow strategy requires human escalation"}
		case StrategyDecompose:
			return domain.DecisionResult{Action: domain.ActionDecompose, Reason: "workflow strategy requires decomposition"}
		}
		return domain.DecisionResult{Action: domain.ActionTriggerRefinement, Reason: "rejected issue needs refinement"}
	}

	return none(fmt.Sprintf("unrecognized status %s", ctx.Issue.Status))
}
