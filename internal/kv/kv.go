// Package kv defines the key-value store contract shared by the override
// store, the processing-phase ledger and the event deduplicator.
//
// Keys are independently, atomically readable and writable; there are no
// multi-key transactions and no client-side locking. Two governor instances
// sharing a store can race on read-modify-write sequences for the same
// issue. The single-writer-per-issue assumption is operational, not
// enforced here.
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Store is the pluggable backend. A ttl of zero means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
