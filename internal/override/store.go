package override

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"governor/internal/domain"
	"governor/internal/kv"
)

const keyPrefix = "override:"

// Store persists active override state per issue over an injected key-value
// backend. Expiry is a read-time check; there is no background reaper.
type Store struct {
	KV  kv.Store
	Now func() time.Time

	// HoldTTL bounds how long a hold stays active without a resume.
	// Zero means holds never expire.
	HoldTTL time.Duration
}

func NewStore(backend kv.Store, holdTTL time.Duration) *Store {
	return &Store{KV: backend, Now: time.Now, HoldTTL: holdTTL}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the active override state for an issue, or nil when none is
// set or the stored state has expired.
func (s *Store) Get(ctx context.Context, issueID string) (*domain.OverrideState, error) {
	raw, err := s.KV.Get(ctx, keyPrefix+issueID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override state: %w", err)
	}
	var state domain.OverrideState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode override state for %s: %w", issueID, err)
	}
	if state.ExpiresAt != nil && !s.now().Before(*state.ExpiresAt) {
		return nil, nil
	}
	return &state, nil
}

// Set records a directive as the active override for an issue. The state is
// always created active; RESUME must go through Clear, not Set.
func (s *Store) Set(ctx context.Context, issueID string, directive domain.OverrideDirective) error {
	if directive.Type == domain.DirectiveResume {
		return fmt.Errorf("resume directives clear state, not set it")
	}
	state := domain.OverrideState{
		IssueID:   issueID,
		Directive: directive,
		IsActive:  true,
	}
	if directive.Type == domain.DirectiveHold && s.HoldTTL > 0 {
		exp := s.now().Add(s.HoldTTL)
		state.ExpiresAt = &exp
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode override state: %w", err)
	}
	if err := s.KV.Set(ctx, keyPrefix+issueID, raw, 0); err != nil {
		return fmt.Errorf("set override state: %w", err)
	}
	return nil
}

// Clear removes the active override for an issue. Clearing a missing key is
// not an error.
func (s *Store) Clear(ctx context.Context, issueID string) error {
	if err := s.KV.Del(ctx, keyPrefix+issueID); err != nil {
		return fmt.Errorf("clear override state: %w", err)
	}
	return nil
}

// IsHeld reports whether an unexpired HOLD is active for the issue.
func (s *Store) IsHeld(ctx context.Context, issueID string) (bool, error) {
	state, err := s.Get(ctx, issueID)
	if err != nil {
		return false, err
	}
	return state != nil && state.IsActive && state.Directive.Type == domain.DirectiveHold, nil
}

// Priority returns the active PRIORITY override value, or empty when none.
func (s *Store) Priority(ctx context.Context, issueID string) (domain.OverridePriority, error) {
	state, err := s.Get(ctx, issueID)
	if err != nil {
		return "", err
	}
	if state == nil || !state.IsActive || state.Directive.Type != domain.DirectivePriority {
		return "", nil
	}
	return state.Directive.Priority, nil
}
