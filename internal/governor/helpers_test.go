package governor

import (
	"context"
	"sync"
	"time"

	"governor/internal/config"
	"governor/internal/domain"
)

// fakeTracker serves canned issues and predicate answers, with injectable
// per-call failures.
type fakeTracker struct {
	mu sync.Mutex

	issues  map[string][]domain.Issue
	listErr map[string]error

	activeSessions map[string]bool
	cooldowns      map[string]bool
	parents        map[string]bool
	strategies     map[string]string

	sessionErr map[string]error

	listCalls int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:         map[string][]domain.Issue{},
		listErr:        map[string]error{},
		activeSessions: map[string]bool{},
		cooldowns:      map[string]bool{},
		parents:        map[string]bool{},
		strategies:     map[string]string{},
		sessionErr:     map[string]error{},
	}
}

func (f *fakeTracker) ListIssues(_ context.Context, project string) ([]domain.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.listErr[project]; err != nil {
		return nil, err
	}
	return f.issues[project], nil
}

func (f *fakeTracker) HasActiveSession(_ context.Context, issueID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sessionErr[issueID]; err != nil {
		return false, err
	}
	return f.activeSessions[issueID], nil
}

func (f *fakeTracker) IsWithinCooldown(_ context.Context, issueID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldowns[issueID], nil
}

func (f *fakeTracker) IsParentIssue(_ context.Context, issueID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parents[issueID], nil
}

func (f *fakeTracker) GetWorkflowStrategy(_ context.Context, issueID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.strategies[issueID], nil
}

type dispatchCall struct {
	IssueID string
	Action  domain.Action
}

// fakeDispatcher records dispatches and fails on demand.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	fail  map[string]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{fail: map[string]error{}}
}

func (f *fakeDispatcher) DispatchWork(_ context.Context, issueID string, action domain.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[issueID]; err != nil {
		return err
	}
	f.calls = append(f.calls, dispatchCall{IssueID: issueID, Action: action})
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDispatcher) last() (dispatchCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return dispatchCall{}, false
	}
	return f.calls[len(f.calls)-1], true
}

// fakePhases answers the phase-completed predicates from a set.
type fakePhases struct {
	mu        sync.Mutex
	completed map[string]bool
}

func newFakePhases() *fakePhases {
	return &fakePhases{completed: map[string]bool{}}
}

func (f *fakePhases) IsCompleted(_ context.Context, issueID string, p domain.Phase) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[issueID+"|"+string(p)], nil
}

// fakeResponder records MarkResponded calls.
type fakeResponder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeResponder) MarkResponded(_ context.Context, issueID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, issueID)
	return nil
}

func (f *fakeResponder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig(projects ...string) *config.Config {
	cfg := config.Default("PROJ")
	if len(projects) > 0 {
		cfg.Projects = projects
	}
	cfg.Events.DisableReconcile = true
	return cfg
}

func backlogIssue(id string) domain.Issue {
	return domain.Issue{
		ID:         id,
		Identifier: "PROJ-" + id,
		Title:      "issue " + id,
		Status:     domain.StatusBacklog,
		CreatedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}
