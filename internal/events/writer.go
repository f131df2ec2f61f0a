package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit rows to the events table. Purely observational; the
// governors behave identically with a nil Writer.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w *Writer) Append(ctx context.Context, evtType, project, issueID, actorID string, payload EventPayload) error {
	if w == nil || w.DB == nil {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,project,issue_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(project), nullable(issueID), actorID, string(data))
	return err
}

// Record is a read model for the audit tail.
type Record struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Project string `json:"project,omitempty"`
	IssueID string `json:"issue_id,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

// Latest returns up to n most recent audit rows, optionally filtered.
func (w *Writer) Latest(ctx context.Context, n int, evtType, issueID string) ([]Record, error) {
	if w == nil || w.DB == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,COALESCE(project,''),COALESCE(issue_id,''),actor_id,payload_json FROM events`
	var (
		conds []string
		args  []any
	)
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if issueID != "" {
		conds = append(conds, "issue_id=?")
		args = append(args, issueID)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)

	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.TS, &r.Type, &r.Project, &r.IssueID, &r.ActorID, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
