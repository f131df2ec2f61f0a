package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"governor/internal/domain"
	"governor/internal/kv"
)

const dedupPrefix = "dedup:"

// Deduplicator suppresses duplicate event processing within a window.
type Deduplicator interface {
	IsDuplicate(ctx context.Context, key string) (bool, error)
}

// KVDeduplicator tracks seen keys in a key-value store with a TTL window.
// The first caller of IsDuplicate for a key claims it; later callers inside
// the window are duplicates.
type KVDeduplicator struct {
	KV     kv.Store
	Window time.Duration
}

func NewKVDeduplicator(backend kv.Store, window time.Duration) *KVDeduplicator {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &KVDeduplicator{KV: backend, Window: window}
}

func (d *KVDeduplicator) IsDuplicate(ctx context.Context, key string) (bool, error) {
	_, err := d.KV.Get(ctx, dedupPrefix+key)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	if err := d.KV.Set(ctx, dedupPrefix+key, []byte("1"), d.Window); err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return false, nil
}

// DedupKey derives a deterministic identity for an event. The event type is
// part of the key, so a live issue-status-changed event and a reconciliation
// poll-snapshot for the same issue never collide; poll-snapshot keys bucket
// their timestamp to the window so repeated sweeps inside one window dedupe
// against each other.
func DedupKey(event domain.GovernorEvent, window time.Duration) string {
	base := string(event.Type) + "|" + event.IssueID
	switch event.Type {
	case domain.EventCommentAdded:
		return base + "|" + event.CommentID
	case domain.EventSessionCompleted:
		return base + "|" + event.SessionID
	case domain.EventIssueStatusChanged:
		return base + "|" + string(event.FromStatus) + ">" + string(event.ToStatus)
	case domain.EventPollSnapshot:
		if window <= 0 {
			window = 5 * time.Minute
		}
		bucket := event.Timestamp.UnixNano() / int64(window)
		return base + "|" + fmt.Sprintf("%d", bucket)
	}
	return base
}
