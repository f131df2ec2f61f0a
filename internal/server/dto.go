package server

import (
	"time"

	"governor/internal/domain"
	"governor/internal/events"
)

type StatusResponse struct {
	PollRunning    bool     `json:"poll_running"`
	EventRunning   bool     `json:"event_running"`
	EventUnhealthy bool     `json:"event_unhealthy"`
	Projects       []string `json:"projects"`
	ScanInterval   string   `json:"scan_interval"`
}

type ScanReportResponse struct {
	StartedAt time.Time           `json:"started_at"`
	Results   []domain.ScanResult `json:"results"`
}

type SetOverrideRequest struct {
	Type     string `json:"type" example:"hold" doc:"Directive keyword: hold, skip-qa, decompose, reassign, or priority"`
	Reason   string `json:"reason,omitempty"`
	Priority string `json:"priority,omitempty" example:"high"`
}

type OverrideResponse struct {
	State *domain.OverrideState `json:"state"`
}

type PostTouchpointRequest struct {
	Type            string  `json:"type" example:"review-request" doc:"Touchpoint type: review-request, decomposition-proposal, or escalation-alert"`
	IssueIdentifier string  `json:"issue_identifier,omitempty" doc:"Human-facing identifier; defaults to the issue id"`
	CycleCount      int     `json:"cycle_count,omitempty"`
	FailureSummary  string  `json:"failure_summary,omitempty"`
	Strategy        string  `json:"strategy,omitempty"`
	TotalCostUSD    float64 `json:"total_cost_usd,omitempty"`
	BlockerID       string  `json:"blocker_identifier,omitempty"`
}

type TouchpointResponse struct {
	Item domain.TouchpointNotification `json:"item"`
}

type TouchpointListResponse struct {
	Items []domain.TouchpointNotification `json:"items"`
}

type AuditTailResponse struct {
	Items []events.Record `json:"items"`
}
