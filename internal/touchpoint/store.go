package touchpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"governor/internal/domain"
)

// Store keeps a record of posted touchpoints in the touchpoints table.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Record assigns an id and posted_at and persists the notification.
func (s *Store) Record(ctx context.Context, issueID string, n domain.TouchpointNotification) (domain.TouchpointNotification, error) {
	n.ID = uuid.New().String()
	n.IssueID = issueID
	n.PostedAt = s.now().UTC()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO touchpoints(id,type,issue_id,body,posted_at,timeout_ms,responded_at) VALUES (?,?,?,?,?,?,NULL)`,
		n.ID, string(n.Type), n.IssueID, n.Body, n.PostedAt.Format(time.RFC3339Nano), n.Timeout.Milliseconds())
	if err != nil {
		return n, fmt.Errorf("record touchpoint: %w", err)
	}
	return n, nil
}

// MarkResponded closes every open touchpoint for an issue. Called when a
// human directive arrives on the issue.
func (s *Store) MarkResponded(ctx context.Context, issueID string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE touchpoints SET responded_at=? WHERE issue_id=? AND responded_at IS NULL`,
		at.UTC().Format(time.RFC3339Nano), issueID)
	if err != nil {
		return fmt.Errorf("mark touchpoints responded: %w", err)
	}
	return nil
}

// ListByIssue returns an issue's touchpoints, newest first.
func (s *Store) ListByIssue(ctx context.Context, issueID string) ([]domain.TouchpointNotification, error) {
	return s.list(ctx, `SELECT id,type,issue_id,body,posted_at,timeout_ms,responded_at FROM touchpoints WHERE issue_id=? ORDER BY posted_at DESC`, issueID)
}

// ListOpen returns all unresponded touchpoints, newest first.
func (s *Store) ListOpen(ctx context.Context) ([]domain.TouchpointNotification, error) {
	return s.list(ctx, `SELECT id,type,issue_id,body,posted_at,timeout_ms,responded_at FROM touchpoints WHERE responded_at IS NULL ORDER BY posted_at DESC`)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]domain.TouchpointNotification, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TouchpointNotification
	for rows.Next() {
		var n domain.TouchpointNotification
		var typ, posted string
		var timeoutMs int64
		var responded sql.NullString
		if err := rows.Scan(&n.ID, &typ, &n.IssueID, &n.Body, &posted, &timeoutMs, &responded); err != nil {
			return nil, err
		}
		n.Type = domain.TouchpointType(typ)
		n.Timeout = time.Duration(timeoutMs) * time.Millisecond
		if t, perr := time.Parse(time.RFC3339Nano, posted); perr == nil {
			n.PostedAt = t
		}
		if responded.Valid {
			if t, perr := time.Parse(time.RFC3339Nano, responded.String); perr == nil {
				n.RespondedAt = &t
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
