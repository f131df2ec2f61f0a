package governor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"governor/internal/bus"
	"governor/internal/config"
	"governor/internal/decision"
	"governor/internal/domain"
	"governor/internal/events"
	"governor/internal/override"
)

// OverrideWriter is the write side of the override state store, consumed
// when a directive arrives in a comment.
type OverrideWriter interface {
	Set(ctx context.Context, issueID string, directive domain.OverrideDirective) error
	Clear(ctx context.Context, issueID string) error
}

// TouchpointResponder closes open touchpoints when a human replies.
type TouchpointResponder interface {
	MarkResponded(ctx context.Context, issueID string, at time.Time) error
}

// Event is the event-driven governor: one consumer processes bus deliveries
// strictly in order, and an independent reconciliation timer republishes
// every issue as a poll-snapshot for eventual consistency.
type Event struct {
	Cfg         *config.Config
	Deps        Deps
	Bus         bus.Bus
	Dedup       bus.Deduplicator
	Overrides   OverrideWriter
	Touchpoints TouchpointResponder
	Log         zerolog.Logger
	Audit       *events.Writer
	Now         func() time.Time

	mu           sync.Mutex
	running      bool
	stopping     bool
	cancel       context.CancelFunc
	consumerDone chan struct{}
	reconcile    sync.WaitGroup

	unhealthy atomic.Bool
}

func NewEvent(cfg *config.Config, deps Deps, b bus.Bus, dedup bus.Deduplicator, overrides OverrideWriter, touchpoints TouchpointResponder, log zerolog.Logger, audit *events.Writer) *Event {
	return &Event{
		Cfg:         cfg,
		Deps:        deps,
		Bus:         b,
		Dedup:       dedup,
		Overrides:   overrides,
		Touchpoints: touchpoints,
		Log:         log,
		Audit:       audit,
		Now:         time.Now,
	}
}

func (g *Event) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Start launches the consumption loop and, unless disabled, the
// reconciliation sweep timer. Idempotent while running.
func (g *Event) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}
	deliveries, err := g.Bus.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	g.running = true
	g.stopping = false
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.consumerDone = make(chan struct{})
	go g.consume(ctx, deliveries)
	if !g.Cfg.Events.DisableReconcile {
		g.reconcile.Add(1)
		go g.reconcileLoop(ctx)
	}
	return nil
}

// Stop cancels the timer, closes the bus (ending the subscription stream)
// and waits for the consumer to drain. No event is processed after Stop
// returns. Safe to call repeatedly.
func (g *Event) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.stopping = true
	g.cancel()
	consumerDone := g.consumerDone
	g.mu.Unlock()

	err := g.Bus.Close()
	g.reconcile.Wait()
	<-consumerDone

	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
	return err
}

// Running reports consumer state.
func (g *Event) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Unhealthy reports whether the subscription stream terminated while the
// governor believed itself running.
func (g *Event) Unhealthy() bool {
	return g.unhealthy.Load()
}

func (g *Event) consume(ctx context.Context, deliveries <-chan bus.Delivery) {
	defer close(g.consumerDone)
	for {
		select {
		case <-ctx.Done():
			// Drain nothing further; Close ends the channel for real.
			g.drainUntilClosed(deliveries)
			return
		case d, ok := <-deliveries:
			if !ok {
				g.mu.Lock()
				stopping := g.stopping
				g.mu.Unlock()
				if !stopping {
					// No automatic restart at this layer; surface it.
					g.unhealthy.Store(true)
					g.Log.Error().Msg("event subscription terminated unexpectedly")
				}
				return
			}
			g.processDelivery(ctx, d)
		}
	}
}

func (g *Event) drainUntilClosed(deliveries <-chan bus.Delivery) {
	for range deliveries {
		// Discard; Stop has been requested and the bus is closing.
	}
}

// processDelivery handles one event end to end. The delivery is
// acknowledged unconditionally once processing (success or caught failure)
// completes; redelivery, if wanted, is the bus's business.
func (g *Event) processDelivery(ctx context.Context, d bus.Delivery) {
	defer func() {
		if err := g.Bus.Ack(d.ID); err != nil {
			g.Log.Warn().Err(err).Str("delivery", d.ID).Msg("ack failed")
		}
	}()

	if g.Dedup != nil {
		key := bus.DedupKey(d.Event, g.Cfg.Events.DedupWindow.Duration)
		dup, err := g.Dedup.IsDuplicate(ctx, key)
		if err != nil {
			g.Log.Warn().Err(err).Str("key", key).Msg("dedup check failed; processing anyway")
		} else if dup {
			g.Log.Debug().Str("key", key).Msg("duplicate event skipped")
			return
		}
	}

	var err error
	switch d.Event.Type {
	case domain.EventCommentAdded:
		err = g.handleComment(ctx, d.Event)
	case domain.EventIssueStatusChanged, domain.EventSessionCompleted, domain.EventPollSnapshot:
		err = g.evaluateAndDispatch(ctx, d.Event.Issue)
	default:
		g.Log.Warn().Str("type", string(d.Event.Type)).Msg("unknown event type")
	}
	if err != nil {
		g.Log.Error().Err(err).
			Str("type", string(d.Event.Type)).
			Str("issue", d.Event.IssueID).
			Msg("event processing failed")
	}
}

func (g *Event) handleComment(ctx context.Context, event domain.GovernorEvent) error {
	directive := override.Parse(override.Comment{
		ID:          event.CommentID,
		Body:        event.CommentBody,
		UserID:      event.UserID,
		AuthorIsBot: event.AuthorIsBot,
		Timestamp:   event.Timestamp,
	})
	if directive == nil {
		// The comment may carry contextual signal even without a command.
		return g.evaluateAndDispatch(ctx, event.Issue)
	}

	if g.Touchpoints != nil {
		if err := g.Touchpoints.MarkResponded(ctx, event.IssueID, event.Timestamp); err != nil {
			g.Log.Warn().Err(err).Str("issue", event.IssueID).Msg("marking touchpoints responded failed")
		}
	}

	if directive.Type == domain.DirectiveResume {
		if err := g.Overrides.Clear(ctx, event.IssueID); err != nil {
			return err
		}
		_ = g.Audit.Append(ctx, "override.cleared", "", event.IssueID, directive.UserID, events.EventPayload{
			"comment_id": directive.CommentID,
		})
		// Resume means the human wants movement now, not next sweep.
		return g.evaluateAndDispatch(ctx, event.Issue)
	}

	if err := g.Overrides.Set(ctx, event.IssueID, *directive); err != nil {
		return err
	}
	_ = g.Audit.Append(ctx, "override.set", "", event.IssueID, directive.UserID, events.EventPayload{
		"directive":  directive.Type,
		"comment_id": directive.CommentID,
	})
	g.Log.Info().
		Str("issue", event.IssueID).
		Str("directive", string(directive.Type)).
		Msg("override applied")
	return nil
}

func (g *Event) evaluateAndDispatch(ctx context.Context, issue domain.Issue) error {
	dctx, err := gatherContext(ctx, g.Deps, g.Cfg, issue, g.now())
	if err != nil {
		return fmt.Errorf("gather context for %s: %w", issue.ID, err)
	}
	res := decision.Decide(dctx)
	g.Log.Debug().
		Str("issue", issue.ID).
		Str("action", string(res.Action)).
		Str("reason", res.Reason).
		Msg("decision")
	if res.Action == domain.ActionNone {
		return nil
	}
	if err := dispatchWithRetry(ctx, g.Deps.Dispatcher, issue.ID, res.Action, g.Cfg.Dispatch.RetryMaxElapsed.Duration); err != nil {
		return fmt.Errorf("dispatch %s for %s: %w", res.Action, issue.ID, err)
	}
	_ = g.Audit.Append(ctx, "decision.dispatched", "", issue.ID, "event-governor", events.EventPayload{
		"action": res.Action,
		"reason": res.Reason,
	})
	return nil
}

// reconcileLoop periodically republishes every issue as a poll-snapshot so
// anything missed by webhook delivery still gets processed. It only
// publishes; evaluation happens on the consumer through the same dedup and
// routing path as live events.
func (g *Event) reconcileLoop(ctx context.Context) {
	defer g.reconcile.Done()
	ticker := time.NewTicker(g.Cfg.Events.ReconcileInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(ctx)
		}
	}
}

func (g *Event) sweep(ctx context.Context) {
	for _, project := range g.Cfg.Projects {
		issues, err := g.Deps.Tracker.ListIssues(ctx, project)
		if err != nil {
			g.Log.Warn().Err(err).Str("project", project).Msg("reconcile listing failed")
			continue
		}
		published := 0
		for _, issue := range issues {
			event := domain.GovernorEvent{
				Type:      domain.EventPollSnapshot,
				IssueID:   issue.ID,
				Issue:     issue,
				Timestamp: g.now(),
			}
			if err := g.Bus.Publish(event); err != nil {
				g.Log.Warn().Err(err).Str("issue", issue.ID).Msg("reconcile publish failed")
				continue
			}
			published++
		}
		g.Log.Debug().Str("project", project).Int("published", published).Msg("reconciliation sweep")
	}
}
