// Package phase records that a one-time processing phase has already run
// for an issue. It is an idempotency gate, not an audit log.
package phase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"governor/internal/domain"
	"governor/internal/kv"
)

const keyPrefix = "phase:"

type Store struct {
	KV  kv.Store
	Now func() time.Time
}

func NewStore(backend kv.Store) *Store {
	return &Store{KV: backend, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func key(issueID string, p domain.Phase) string {
	return keyPrefix + string(p) + ":" + issueID
}

// MarkCompleted records a phase as done. Re-marking overwrites the session
// id; completed_at never moves backwards.
func (s *Store) MarkCompleted(ctx context.Context, issueID string, p domain.Phase, sessionID string) error {
	rec := domain.ProcessingPhaseRecord{
		IssueID:     issueID,
		Phase:       p,
		SessionID:   sessionID,
		CompletedAt: s.now(),
	}
	if prev, err := s.Get(ctx, issueID, p); err == nil && prev != nil && prev.CompletedAt.After(rec.CompletedAt) {
		rec.CompletedAt = prev.CompletedAt
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode phase record: %w", err)
	}
	if err := s.KV.Set(ctx, key(issueID, p), raw, 0); err != nil {
		return fmt.Errorf("mark phase completed: %w", err)
	}
	return nil
}

// Get returns the record for a phase, or nil when the phase has not run.
func (s *Store) Get(ctx context.Context, issueID string, p domain.Phase) (*domain.ProcessingPhaseRecord, error) {
	raw, err := s.KV.Get(ctx, key(issueID, p))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get phase record: %w", err)
	}
	var rec domain.ProcessingPhaseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode phase record for %s: %w", issueID, err)
	}
	return &rec, nil
}

// IsCompleted reports whether the phase has already run for the issue.
func (s *Store) IsCompleted(ctx context.Context, issueID string, p domain.Phase) (bool, error) {
	rec, err := s.Get(ctx, issueID, p)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Clear removes the phase record so the phase may run again.
func (s *Store) Clear(ctx context.Context, issueID string, p domain.Phase) error {
	if err := s.KV.Del(ctx, key(issueID, p)); err != nil {
		return fmt.Errorf("clear phase record: %w", err)
	}
	return nil
}
