package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// QueueEntry is one drained sync-queue row with its capsule payload.
type QueueEntry struct {
	Capsule    capsule.Capsule
	ReceivedAt time.Time
	RetryCount int
}

// DeadLetterRecord is one capsule that exhausted its retry budget.
type DeadLetterRecord struct {
	CapsuleID  string
	Reason     string
	RetryCount int
	MovedAt    time.Time
}

// EnqueueSync durably stores a capsule and adds it to the sync queue in
// one transaction. Returns inserted=false if the capsule was already
// queued, integrated, or dead-lettered (dedup by id makes re-enqueue a
// no-op). The payload is persisted before the enqueue is acknowledged,
// so a crash never loses a received capsule.
func (s *Store) EnqueueSync(ctx context.Context, c capsule.Capsule, receivedAt time.Time) (inserted bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		deltaJSON, merr := marshalDelta(c.Delta)
		if merr != nil {
			return fmt.Errorf("enqueue: %w", merr)
		}
		if _, werr := tx.ExecContext(ctx, `
			INSERT INTO capsules (id, prev_id, producer_id, sequence_time, features, quality, delta_json, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			c.ID, c.PrevID, c.ProducerID, c.SequenceTime,
			encodeFeatures(c.Features), c.Quality, deltaJSON,
			receivedAt.UTC().Format(time.RFC3339Nano),
		); werr != nil {
			return fmt.Errorf("enqueue: store capsule: %w", werr)
		}

		res, werr := tx.ExecContext(ctx, `
			INSERT INTO sync_queue (capsule_id, received_at) VALUES (?, ?)
			ON CONFLICT(capsule_id) DO NOTHING
		`, c.ID, receivedAt.UTC().Format(time.RFC3339Nano))
		if werr != nil {
			return fmt.Errorf("enqueue: %w", werr)
		}
		n, werr := res.RowsAffected()
		if werr != nil {
			return fmt.Errorf("enqueue: %w", werr)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// DrainSync returns up to max pending entries in FIFO order.
// Entries stay pending until acked or failed; draining does not consume.
func (s *Store) DrainSync(ctx context.Context, max int) ([]QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.prev_id, c.producer_id, c.sequence_time, c.features, c.quality, c.delta_json,
		       q.received_at, q.retry_count
		FROM sync_queue q
		JOIN capsules c ON c.id = q.capsule_id
		WHERE q.status = 'pending'
		ORDER BY q.seq
		LIMIT ?
	`, max)
	if err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var blob []byte
		var deltaJSON, ts string
		if err := rows.Scan(
			&e.Capsule.ID, &e.Capsule.PrevID, &e.Capsule.ProducerID, &e.Capsule.SequenceTime,
			&blob, &e.Capsule.Quality, &deltaJSON, &ts, &e.RetryCount,
		); err != nil {
			return nil, fmt.Errorf("drain: scan: %w", err)
		}
		f, err := decodeFeatures(blob)
		if err != nil {
			return nil, fmt.Errorf("drain: %w", err)
		}
		e.Capsule.Features = f
		e.Capsule.Delta, err = unmarshalDelta(deltaJSON)
		if err != nil {
			return nil, fmt.Errorf("drain: %w", err)
		}
		e.ReceivedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AckSync marks a queue entry as integrated.
func (s *Store) AckSync(ctx context.Context, capsuleID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'acked' WHERE capsule_id = ? AND status = 'pending'
	`, capsuleID)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// FailSync increments the entry's retry count; once the count reaches
// maxRetries the entry moves to dead-letter (flagged, audited, never
// deleted) and is excluded from future drains. Returns deadLettered.
func (s *Store) FailSync(ctx context.Context, capsuleID, reason string, maxRetries int) (deadLettered bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var retries int
		row := tx.QueryRowContext(ctx, `
			SELECT retry_count FROM sync_queue WHERE capsule_id = ? AND status = 'pending'
		`, capsuleID)
		if serr := row.Scan(&retries); serr == sql.ErrNoRows {
			return nil // already acked or dead
		} else if serr != nil {
			return fmt.Errorf("fail: %w", serr)
		}

		retries++
		if retries < maxRetries {
			if _, werr := tx.ExecContext(ctx, `
				UPDATE sync_queue SET retry_count = ? WHERE capsule_id = ?
			`, retries, capsuleID); werr != nil {
				return fmt.Errorf("fail: %w", werr)
			}
			return nil
		}

		if _, werr := tx.ExecContext(ctx, `
			UPDATE sync_queue SET retry_count = ?, status = 'dead' WHERE capsule_id = ?
		`, retries, capsuleID); werr != nil {
			return fmt.Errorf("fail: %w", werr)
		}
		if _, werr := tx.ExecContext(ctx, `
			INSERT INTO dead_letter (capsule_id, reason, retry_count, moved_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(capsule_id) DO NOTHING
		`, capsuleID, reason, retries, time.Now().UTC().Format(time.RFC3339Nano)); werr != nil {
			return fmt.Errorf("fail: dead-letter: %w", werr)
		}
		deadLettered = true
		return nil
	})
	return deadLettered, err
}

// QueueDepth returns the number of pending entries.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// ReadDeadLetters returns the dead-letter audit log.
func (s *Store) ReadDeadLetters(ctx context.Context) ([]DeadLetterRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT capsule_id, reason, retry_count, moved_at FROM dead_letter ORDER BY moved_at, capsule_id
	`)
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetterRecord
	for rows.Next() {
		var r DeadLetterRecord
		var ts string
		if err := rows.Scan(&r.CapsuleID, &r.Reason, &r.RetryCount, &ts); err != nil {
			return nil, fmt.Errorf("read dead letters: scan: %w", err)
		}
		r.MovedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
