package governor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"governor/internal/config"
	"governor/internal/decision"
	"governor/internal/domain"
	"governor/internal/events"
)

// Poll is the timer-driven governor: on every tick it scans each configured
// project, evaluates every issue and dispatches up to the per-project limit.
type Poll struct {
	Cfg   *config.Config
	Deps  Deps
	Log   zerolog.Logger
	Audit *events.Writer
	Now   func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	loop    sync.WaitGroup
	scans   sync.WaitGroup

	lastMu   sync.Mutex
	lastScan []domain.ScanResult
	lastAt   time.Time
}

func NewPoll(cfg *config.Config, deps Deps, log zerolog.Logger, audit *events.Writer) *Poll {
	return &Poll{Cfg: cfg, Deps: deps, Log: log, Audit: audit, Now: time.Now}
}

func (p *Poll) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Start runs one immediate scan and then re-fires every scan interval.
// Calling Start while running is a no-op; no duplicate timer is created.
func (p *Poll) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.loop.Add(1)
	go p.run(ctx)
}

func (p *Poll) run(ctx context.Context) {
	defer p.loop.Done()
	p.tick(ctx)
	ticker := time.NewTicker(p.Cfg.Scan.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A scan that outlives the interval overlaps the next tick's
			// scan. Accepted hazard, mirroring interval-timer semantics;
			// Stop still waits for every in-flight scan.
			p.tick(ctx)
		}
	}
}

func (p *Poll) tick(ctx context.Context) {
	p.scans.Add(1)
	go func() {
		defer p.scans.Done()
		results := p.ScanOnce(ctx)
		p.lastMu.Lock()
		p.lastScan = results
		p.lastAt = p.now()
		p.lastMu.Unlock()
	}()
}

// Stop clears the timer and waits for in-flight scans. Safe to call when
// not running and safe to call repeatedly.
func (p *Poll) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.loop.Wait()
	p.scans.Wait()
}

// Running reports the loop state.
func (p *Poll) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastScan returns the most recent scan results and when they were taken.
func (p *Poll) LastScan() ([]domain.ScanResult, time.Time) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	return p.lastScan, p.lastAt
}

// ScanOnce iterates the configured projects sequentially and returns one
// ScanResult per project.
func (p *Poll) ScanOnce(ctx context.Context) []domain.ScanResult {
	results := make([]domain.ScanResult, 0, len(p.Cfg.Projects))
	for _, project := range p.Cfg.Projects {
		results = append(results, p.scanProject(ctx, project))
	}
	return results
}

func (p *Poll) scanProject(ctx context.Context, project string) domain.ScanResult {
	result := domain.ScanResult{Project: project}

	issues, err := p.Deps.Tracker.ListIssues(ctx, project)
	if err != nil {
		// One aggregate error for the project; zero issues scanned.
		p.Log.Error().Err(err).Str("project", project).Msg("list issues failed")
		result.Errors = append(result.Errors, domain.IssueError{Error: err.Error()})
		return result
	}

	for _, issue := range issues {
		result.ScannedIssues++

		dctx, err := gatherContext(ctx, p.Deps, p.Cfg, issue, p.now())
		if err != nil {
			p.Log.Warn().Err(err).Str("issue", issue.ID).Msg("context gathering failed")
			result.Errors = append(result.Errors, domain.IssueError{IssueID: issue.ID, Error: err.Error()})
			continue
		}

		res := decision.Decide(dctx)
		p.Log.Debug().
			Str("issue", issue.ID).
			Str("action", string(res.Action)).
			Str("reason", res.Reason).
			Msg("decision")

		if res.Action == domain.ActionNone {
			result.AddSkipReason(res.Reason)
			continue
		}
		if result.ActionsDispatched >= p.Cfg.Scan.MaxConcurrentDispatches {
			// Dispatch budget for this project is spent; the issue still
			// counts as scanned but no skip reason is recorded.
			continue
		}
		if err := dispatchWithRetry(ctx, p.Deps.Dispatcher, issue.ID, res.Action, p.Cfg.Dispatch.RetryMaxElapsed.Duration); err != nil {
			p.Log.Error().Err(err).Str("issue", issue.ID).Str("action", string(res.Action)).Msg("dispatch failed")
			result.Errors = append(result.Errors, domain.IssueError{IssueID: issue.ID, Error: err.Error()})
			continue
		}
		result.ActionsDispatched++
		_ = p.Audit.Append(ctx, "decision.dispatched", project, issue.ID, "poll-governor", events.EventPayload{
			"action": res.Action,
			"reason": res.Reason,
		})
	}

	_ = p.Audit.Append(ctx, "scan.completed", project, "", "poll-governor", events.EventPayload{
		"scanned":    result.ScannedIssues,
		"dispatched": result.ActionsDispatched,
		"errors":     len(result.Errors),
	})
	p.Log.Info().
		Str("project", project).
		Int("scanned", result.ScannedIssues).
		Int("dispatched", result.ActionsDispatched).
		Int("errors", len(result.Errors)).
		Msg("scan completed")
	return result
}
