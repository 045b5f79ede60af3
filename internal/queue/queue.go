// Package queue is the durable sync queue: capsules received from
// peers wait here until the engine integrates them.
//
// Durability and dedup live in the store; this package owns the retry
// policy. An entry that keeps failing (typically an orphan whose parent
// never arrives) is retried up to a ceiling and then dead-lettered:
// flagged and audited, never silently dropped.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/store"
)

// SyncQueue wraps the store's queue tables with the node's retry policy.
type SyncQueue struct {
	store      *store.Store
	maxRetries int
	log        *slog.Logger
}

// New creates a queue with the given retry ceiling.
func New(st *store.Store, maxRetries int, log *slog.Logger) (*SyncQueue, error) {
	if maxRetries < 1 {
		return nil, fmt.Errorf("queue: retry ceiling must be >= 1, got %d", maxRetries)
	}
	if log == nil {
		log = slog.Default()
	}
	return &SyncQueue{store: st, maxRetries: maxRetries, log: log}, nil
}

// Enqueue durably stores the capsule and queues it for integration.
// Returns false when the capsule was already known (queued, integrated,
// or dead-lettered); re-delivery is a no-op either way.
func (q *SyncQueue) Enqueue(ctx context.Context, c capsule.Capsule, receivedAt time.Time) (bool, error) {
	inserted, err := q.store.EnqueueSync(ctx, c, receivedAt)
	if err != nil {
		return false, err
	}
	if !inserted {
		q.log.Debug("duplicate delivery ignored", "capsule", c.ID)
	}
	return inserted, nil
}

// Drain returns up to max pending entries in arrival order. Entries
// stay pending until Ack or Fail decides their fate.
func (q *SyncQueue) Drain(ctx context.Context, max int) ([]store.QueueEntry, error) {
	return q.store.DrainSync(ctx, max)
}

// Ack marks an entry integrated.
func (q *SyncQueue) Ack(ctx context.Context, capsuleID string) error {
	return q.store.AckSync(ctx, capsuleID)
}

// Fail records one failed integration attempt. At the retry ceiling the
// entry moves to dead-letter and Fail returns true.
func (q *SyncQueue) Fail(ctx context.Context, capsuleID, reason string) (bool, error) {
	dead, err := q.store.FailSync(ctx, capsuleID, reason, q.maxRetries)
	if err != nil {
		return false, err
	}
	if dead {
		q.log.Warn("capsule dead-lettered",
			"capsule", capsuleID, "reason", reason, "retries", q.maxRetries)
	}
	return dead, nil
}

// Depth returns the number of entries awaiting integration.
func (q *SyncQueue) Depth(ctx context.Context) (int, error) {
	return q.store.QueueDepth(ctx)
}

// DeadLetters returns the dead-letter audit log.
func (q *SyncQueue) DeadLetters(ctx context.Context) ([]store.DeadLetterRecord, error) {
	return q.store.ReadDeadLetters(ctx)
}
