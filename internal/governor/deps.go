// Package governor contains the two execution engines that drive the
// decision engine: a timer-driven scan loop and an event-driven consumer.
// The issue tracker and the agent worker are external collaborators
// consumed through the narrow contracts below.
package governor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"governor/internal/domain"
)

// Tracker is the read side of the issue tracker integration.
type Tracker interface {
	ListIssues(ctx context.Context, project string) ([]domain.Issue, error)
	HasActiveSession(ctx context.Context, issueID string) (bool, error)
	IsWithinCooldown(ctx context.Context, issueID string) (bool, error)
	IsParentIssue(ctx context.Context, issueID string) (bool, error)
	GetWorkflowStrategy(ctx context.Context, issueID string) (string, error)
}

// Dispatcher hands a decided action to whatever runs agents. It may fail;
// the caller catches and records.
type Dispatcher interface {
	DispatchWork(ctx context.Context, issueID string, action domain.Action) error
}

// OverrideReader answers the hold predicate.
type OverrideReader interface {
	IsHeld(ctx context.Context, issueID string) (bool, error)
}

// PhaseReader answers the once-only phase predicates.
type PhaseReader interface {
	IsCompleted(ctx context.Context, issueID string, p domain.Phase) (bool, error)
}

// Deps bundles every collaborator both governors need.
type Deps struct {
	Tracker    Tracker
	Dispatcher Dispatcher
	Overrides  OverrideReader
	Phases     PhaseReader
}

// dispatchWithRetry wraps dispatch in a bounded exponential backoff when
// retry is enabled; transient failures get a few attempts before the error
// is recorded against the issue.
func dispatchWithRetry(ctx context.Context, d Dispatcher, issueID string, action domain.Action, maxElapsed time.Duration) error {
	if maxElapsed <= 0 {
		return d.DispatchWork(ctx, issueID, action)
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed
	return backoff.Retry(func() error {
		return d.DispatchWork(ctx, issueID, action)
	}, backoff.WithContext(policy, ctx))
}
