package override

import (
	"regexp"
	"strings"
	"time"

	"governor/internal/domain"
)

// Comment is the minimal view of a tracker comment the parser needs.
type Comment struct {
	ID          string
	Body        string
	UserID      string
	AuthorIsBot bool
	Timestamp   time.Time
}

// The whole first line must match one of these patterns. Anchoring both ends
// avoids false positives on comments that merely mention a keyword.
var (
	reHold      = regexp.MustCompile(`(?i)^hold(?:[ \t—-]+(.+?))?[ \t]*$`)
	reResume    = regexp.MustCompile(`(?i)^resume$`)
	reSkipQA    = regexp.MustCompile(`(?i)^skip[- ]qa$`)
	reDecompose = regexp.MustCompile(`(?i)^decompose$`)
	reReassign  = regexp.MustCompile(`(?i)^reassign$`)
	rePriority  = regexp.MustCompile(`(?i)^priority:\s*(high|medium|low)$`)
)

// Parse turns a human comment into a directive, or nil when the comment is
// bot-authored or its first line matches no directive pattern.
func Parse(c Comment) *domain.OverrideDirective {
	if c.AuthorIsBot {
		return nil
	}
	body := strings.TrimSpace(c.Body)
	if body == "" {
		return nil
	}
	firstLine := body
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		firstLine = strings.TrimSpace(body[:i])
	}

	d := domain.OverrideDirective{
		CommentID: c.ID,
		UserID:    c.UserID,
		Timestamp: c.Timestamp,
	}
	switch {
	case reHold.MatchString(firstLine):
		d.Type = domain.DirectiveHold
		if m := reHold.FindStringSubmatch(firstLine); m[1] != "" {
			d.Reason = strings.TrimSpace(m[1])
		}
	case reResume.MatchString(firstLine):
		d.Type = domain.DirectiveResume
	case reSkipQA.MatchString(firstLine):
		d.Type = domain.DirectiveSkipQA
	case reDecompose.MatchString(firstLine):
		d.Type = domain.DirectiveDecompose
	case reReassign.MatchString(firstLine):
		d.Type = domain.DirectiveReassign
	case rePriority.MatchString(firstLine):
		d.Type = domain.DirectivePriority
		m := rePriority.FindStringSubmatch(firstLine)
		d.Priority = domain.OverridePriority(strings.ToLower(m[1]))
	default:
		return nil
	}
	return &d
}

// FindLatestOverride scans an unordered comment list and returns the
// directive with the greatest timestamp. On exact ties the earliest-seen
// directive wins (strict greater-than).
func FindLatestOverride(comments []Comment) *domain.OverrideDirective {
	var latest *domain.OverrideDirective
	for _, c := range comments {
		d := Parse(c)
		if d == nil {
			continue
		}
		if latest == nil || d.Timestamp.After(latest.Timestamp) {
			latest = d
		}
	}
	return latest
}
