package override

import (
	"testing"
	"time"

	"governor/internal/domain"
)

func comment(body string) Comment {
	return Comment{ID: "c1", Body: body, UserID: "u1", Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestParseDirectives(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantType domain.DirectiveType
		wantNil  bool
	}{
		{name: "hold bare", body: "HOLD", wantType: domain.DirectiveHold},
		{name: "hold lowercase", body: "hold", wantType: domain.DirectiveHold},
		{name: "hold with dash reason", body: "HOLD - waiting on design review", wantType: domain.DirectiveHold},
		{name: "hold with em dash reason", body: "HOLD — security audit pending", wantType: domain.DirectiveHold},
		{name: "resume", body: "RESUME", wantType: domain.DirectiveResume},
		{name: "skip qa hyphen", body: "SKIP-QA", wantType: domain.DirectiveSkipQA},
		{name: "skip qa space", body: "skip qa", wantType: domain.DirectiveSkipQA},
		{name: "decompose", body: "DECOMPOSE", wantType: domain.DirectiveDecompose},
		{name: "reassign", body: "Reassign", wantType: domain.DirectiveReassign},
		{name: "priority high", body: "PRIORITY: high", wantType: domain.DirectivePriority},
		{name: "priority spaced", body: "priority:   LOW", wantType: domain.DirectivePriority},
		{name: "multiline first line wins", body: "HOLD - flaky infra\nmore context below", wantType: domain.DirectiveHold},
		{name: "keyword mid sentence", body: "we should hold off on this", wantNil: true},
		{name: "trailing words", body: "RESUME please", wantNil: true},
		{name: "unknown priority", body: "priority: urgent", wantNil: true},
		{name: "empty", body: "", wantNil: true},
		{name: "plain chatter", body: "looks good to me", wantNil: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(comment(tc.body))
			if tc.wantNil {
				if got != nil {
					t.Fatalf("Parse(%q) = %+v, want nil", tc.body, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Parse(%q) = nil, want %s", tc.body, tc.wantType)
			}
			if got.Type != tc.wantType {
				t.Fatalf("Parse(%q).Type = %s, want %s", tc.body, got.Type, tc.wantType)
			}
		})
	}
}

func TestParseHoldReason(t *testing.T) {
	d := Parse(comment("HOLD - waiting on legal"))
	if d == nil || d.Reason != "waiting on legal" {
		t.Fatalf("got %+v, want hold with reason %q", d, "waiting on legal")
	}
	if d.CommentID != "c1" || d.UserID != "u1" {
		t.Fatalf("directive should carry comment metadata, got %+v", d)
	}

	if d := Parse(comment("HOLD")); d == nil || d.Reason != "" {
		t.Fatalf("bare HOLD should have empty reason, got %+v", d)
	}
}

func TestParsePriorityValue(t *testing.T) {
	d := Parse(comment("PRIORITY: High"))
	if d == nil || d.Priority != domain.PriorityHigh {
		t.Fatalf("got %+v, want priority high", d)
	}
}

func TestParseIgnoresBots(t *testing.T) {
	c := comment("RESUME")
	c.AuthorIsBot = true
	if d := Parse(c); d != nil {
		t.Fatalf("bot comment parsed to %+v, want nil", d)
	}
}

func TestFindLatestOverride(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	comments := []Comment{
		{ID: "c3", Body: "nice work", UserID: "u1", Timestamp: base.Add(3 * time.Hour)},
		{ID: "c1", Body: "HOLD", UserID: "u1", Timestamp: base},
		{ID: "c2", Body: "RESUME", UserID: "u2", Timestamp: base.Add(time.Hour)},
	}
	d := FindLatestOverride(comments)
	if d == nil || d.Type != domain.DirectiveResume {
		t.Fatalf("got %+v, want latest directive RESUME", d)
	}
}

func TestFindLatestOverrideTieKeepsFirst(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	comments := []Comment{
		{ID: "c1", Body: "HOLD", UserID: "u1", Timestamp: ts},
		{ID: "c2", Body: "RESUME", UserID: "u2", Timestamp: ts},
	}
	d := FindLatestOverride(comments)
	if d == nil || d.Type != domain.DirectiveHold {
		t.Fatalf("got %+v, want earliest-seen directive on timestamp tie", d)
	}
}

func TestFindLatestOverrideNone(t *testing.T) {
	if d := FindLatestOverride([]Comment{comment("just chatting")}); d != nil {
		t.Fatalf("got %+v, want nil", d)
	}
}
