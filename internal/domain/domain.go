package domain

import (
	"encoding/json"
	"time"
)

// Status is an issue lifecycle status as reported by the tracker.
type Status string

const (
	StatusIcebox    Status = "icebox"
	StatusBacklog   Status = "backlog"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusDelivered Status = "delivered"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCanceled  Status = "canceled"
	StatusDuplicate Status = "duplicate"
)

// Terminal reports whether no further automated action can apply.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusCanceled || s == StatusDuplicate
}

// Issue is an immutable snapshot supplied by the tracker for each evaluation.
// The governor never mutates it; transitions go through the dispatcher.
type Issue struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Labels      []string  `json:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ParentID    *string   `json:"parent_id,omitempty"`
}

// HasLabel reports whether the issue carries the named label.
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// Action is the closed set of things the governor can decide to do.
type Action string

const (
	ActionNone                   Action = "none"
	ActionTriggerResearch        Action = "trigger-research"
	ActionTriggerBacklogCreation Action = "trigger-backlog-creation"
	ActionTriggerDevelopment     Action = "trigger-development"
	ActionTriggerQA              Action = "trigger-qa"
	ActionTriggerAcceptance      Action = "trigger-acceptance"
	ActionTriggerRefinement      Action = "trigger-refinement"
	ActionEscalateHuman          Action = "escalate-human"
	ActionDecompose              Action = "decompose"
)

// DecisionResult pairs an action with an audit reason. Reason is mandatory.
type DecisionResult struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// DirectiveType classifies a parsed human override comment.
type DirectiveType string

const (
	DirectiveHold      DirectiveType = "hold"
	DirectiveResume    DirectiveType = "resume"
	DirectiveSkipQA    DirectiveType = "skip-qa"
	DirectiveDecompose DirectiveType = "decompose"
	DirectiveReassign  DirectiveType = "reassign"
	DirectivePriority  DirectiveType = "priority"
)

// OverridePriority is the value of a PRIORITY directive.
type OverridePriority string

const (
	PriorityHigh   OverridePriority = "high"
	PriorityMedium OverridePriority = "medium"
	PriorityLow    OverridePriority = "low"
)

// OverrideDirective is an immutable parsed human directive.
type OverrideDirective struct {
	Type      DirectiveType    `json:"type"`
	Reason    string           `json:"reason,omitempty"`
	Priority  OverridePriority `json:"priority,omitempty"`
	CommentID string           `json:"comment_id,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// OverrideState is the persisted form of an active directive.
type OverrideState struct {
	IssueID   string            `json:"issue_id"`
	Directive OverrideDirective `json:"directive"`
	IsActive  bool              `json:"is_active"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// Phase is a one-time processing phase recorded for idempotency.
type Phase string

const (
	PhaseResearch        Phase = "research"
	PhaseBacklogCreation Phase = "backlog-creation"
)

// ProcessingPhaseRecord marks a phase as already run for an issue. It is a
// gate, not an audit log: re-marking overwrites.
type ProcessingPhaseRecord struct {
	IssueID     string    `json:"issue_id"`
	Phase       Phase     `json:"phase"`
	SessionID   string    `json:"session_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// TouchpointType names an escalation notification.
type TouchpointType string

const (
	TouchpointReviewRequest         TouchpointType = "review-request"
	TouchpointDecompositionProposal TouchpointType = "decomposition-proposal"
	TouchpointEscalationAlert       TouchpointType = "escalation-alert"
)

// TouchpointNotification is a rendered escalation message plus its response
// window. Timeout <= 0 means the touchpoint never auto-expires.
type TouchpointNotification struct {
	ID          string         `json:"id"`
	Type        TouchpointType `json:"type"`
	IssueID     string         `json:"issue_id"`
	Body        string         `json:"body"`
	PostedAt    time.Time      `json:"posted_at"`
	Timeout     time.Duration  `json:"timeout_ms"`
	RespondedAt *time.Time     `json:"responded_at,omitempty"`
}

// touchpointJSON is the wire form. The response window travels as
// milliseconds, matching the touchpoints table.
type touchpointJSON struct {
	ID          string         `json:"id"`
	Type        TouchpointType `json:"type"`
	IssueID     string         `json:"issue_id"`
	Body        string         `json:"body"`
	PostedAt    time.Time      `json:"posted_at"`
	TimeoutMS   int64          `json:"timeout_ms"`
	RespondedAt *time.Time     `json:"responded_at,omitempty"`
}

func (n TouchpointNotification) MarshalJSON() ([]byte, error) {
	return json.Marshal(touchpointJSON{
		ID:          n.ID,
		Type:        n.Type,
		IssueID:     n.IssueID,
		Body:        n.Body,
		PostedAt:    n.PostedAt,
		TimeoutMS:   n.Timeout.Milliseconds(),
		RespondedAt: n.RespondedAt,
	})
}

func (n *TouchpointNotification) UnmarshalJSON(data []byte) error {
	var w touchpointJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = TouchpointNotification{
		ID:          w.ID,
		Type:        w.Type,
		IssueID:     w.IssueID,
		Body:        w.Body,
		PostedAt:    w.PostedAt,
		Timeout:     time.Duration(w.TimeoutMS) * time.Millisecond,
		RespondedAt: w.RespondedAt,
	}
	return nil
}

// EventType tags a GovernorEvent.
type EventType string

const (
	EventCommentAdded       EventType = "comment-added"
	EventIssueStatusChanged EventType = "issue-status-changed"
	EventSessionCompleted   EventType = "session-completed"
	EventPollSnapshot       EventType = "poll-snapshot"
)

// GovernorEvent is a discrete unit of work for the event-driven governor.
type GovernorEvent struct {
	Type        EventType `json:"type"`
	IssueID     string    `json:"issue_id"`
	Issue       Issue     `json:"issue"`
	Timestamp   time.Time `json:"timestamp"`
	CommentID   string    `json:"comment_id,omitempty"`
	CommentBody string    `json:"comment_body,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	AuthorIsBot bool      `json:"author_is_bot,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	FromStatus  Status    `json:"from_status,omitempty"`
	ToStatus    Status    `json:"to_status,omitempty"`
}

// IssueError attributes a caught failure to one issue within a scan.
type IssueError struct {
	IssueID string `json:"issue_id"`
	Error   string `json:"error"`
}

// ScanResult summarizes one project's pass through the poll governor.
type ScanResult struct {
	Project           string          `json:"project"`
	ScannedIssues     int             `json:"scanned_issues"`
	ActionsDispatched int             `json:"actions_dispatched"`
	SkippedReasons    map[string]bool `json:"skipped_reasons,omitempty"`
	Errors            []IssueError    `json:"errors,omitempty"`
}

// AddSkipReason records a reason an issue was not dispatched.
func (s *ScanResult) AddSkipReason(reason string) {
	if reason == "" {
		return
	}
	if s.SkippedReasons == nil {
		s.SkippedReasons = map[string]bool{}
	}
	s.SkippedReasons[reason] = true
}
