package governor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"governor/internal/config"
	"governor/internal/decision"
	"governor/internal/domain"
	"governor/internal/triage"
)

// gatherContext issues the seven collaborator predicate calls for one issue
// concurrently and waits for all of them. Any predicate failure fails the
// whole gather; the caller attributes the error to the issue and moves on.
func gatherContext(ctx context.Context, deps Deps, cfg *config.Config, issue domain.Issue, now time.Time) (decision.Context, error) {
	dctx := decision.Context{
		Issue: issue,
		Flags: decision.Flags{
			AutoResearch:        cfg.Automation.Research,
			AutoBacklogCreation: cfg.Automation.BacklogCreation,
			AutoDevelopment:     cfg.Automation.Development,
			AutoQA:              cfg.Automation.QA,
			AutoAcceptance:      cfg.Automation.Acceptance,
		},
		Triage: triage.FromGovernorConfig(cfg),
		Now:    now,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dctx.HasActiveSession, err = deps.Tracker.HasActiveSession(gctx, issue.ID)
		return err
	})
	g.Go(func() error {
		var err error
		dctx.WithinCooldown, err = deps.Tracker.IsWithinCooldown(gctx, issue.ID)
		return err
	})
	g.Go(func() error {
		var err error
		dctx.Held, err = deps.Overrides.IsHeld(gctx, issue.ID)
		return err
	})
	g.Go(func() error {
		var err error
		dctx.IsParent, err = deps.Tracker.IsParentIssue(gctx, issue.ID)
		return err
	})
	g.Go(func() error {
		var err error
		dctx.WorkflowStrategy, err = deps.Tracker.GetWorkflowStrategy(gctx, issue.ID)
		return err
	})
	g.Go(func() error {
		var err error
		dctx.ResearchCompleted, err = deps.Phases.IsCompleted(gctx, issue.ID, domain.PhaseResearch)
		return err
	})
	g.Go(func() error {
		var err error
		dctx.BacklogCreationCompleted, err = deps.Phases.IsCompleted(gctx, issue.ID, domain.PhaseBacklogCreation)
		return err
	})
	if err := g.Wait(); err != nil {
		return decision.Context{}, err
	}
	return dctx, nil
}
