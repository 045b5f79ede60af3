package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/chain"
)

// PutCapsule writes a capsule into the ledger. ON CONFLICT(id) DO
// NOTHING: re-delivery and crash replay are silent no-ops.
func (s *Store) PutCapsule(ctx context.Context, c capsule.Capsule) error {
	deltaJSON, err := marshalDelta(c.Delta)
	if err != nil {
		return fmt.Errorf("put capsule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO capsules (id, prev_id, producer_id, sequence_time, features, quality, delta_json, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		c.ID, c.PrevID, c.ProducerID, c.SequenceTime,
		encodeFeatures(c.Features), c.Quality, deltaJSON,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put capsule: %w", err)
	}
	return nil
}

// GetCapsule reads one capsule from the ledger.
func (s *Store) GetCapsule(ctx context.Context, id string) (capsule.Capsule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prev_id, producer_id, sequence_time, features, quality, delta_json
		FROM capsules WHERE id = ?
	`, id)
	return scanCapsule(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapsule(row rowScanner) (capsule.Capsule, error) {
	var c capsule.Capsule
	var blob []byte
	var deltaJSON string
	if err := row.Scan(&c.ID, &c.PrevID, &c.ProducerID, &c.SequenceTime, &blob, &c.Quality, &deltaJSON); err != nil {
		return capsule.Capsule{}, err
	}
	f, err := decodeFeatures(blob)
	if err != nil {
		return capsule.Capsule{}, err
	}
	c.Features = f
	c.Delta, err = unmarshalDelta(deltaJSON)
	if err != nil {
		return capsule.Capsule{}, err
	}
	return c, nil
}

// AppendCanonical records that the capsule occupies the given canonical
// position. The capsule must already be in the ledger.
func (s *Store) AppendCanonical(ctx context.Context, position int, capsuleID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical (position, capsule_id) VALUES (?, ?)
	`, position, capsuleID)
	if err != nil {
		return fmt.Errorf("append canonical: %w", err)
	}
	return nil
}

// TruncateCanonical removes canonical rows at and after position,
// recording each removed capsule in the orphan log in the same
// transaction. The capsules themselves stay in the ledger.
func (s *Store) TruncateCanonical(ctx context.Context, position int, winnerID, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT capsule_id FROM canonical WHERE position >= ? ORDER BY position
		`, position)
		if err != nil {
			return fmt.Errorf("truncate canonical: %w", err)
		}
		var evicted []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("truncate canonical: scan: %w", err)
			}
			evicted = append(evicted, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("truncate canonical: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, id := range evicted {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO orphans (capsule_id, winner_id, reason, recorded_at)
				VALUES (?, ?, ?, ?)
			`, id, winnerID, reason, now); err != nil {
				return fmt.Errorf("truncate canonical: orphan %s: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM canonical WHERE position >= ?
		`, position); err != nil {
			return fmt.Errorf("truncate canonical: %w", err)
		}
		return nil
	})
}

// ReadCanonical returns the canonical chain in order, genesis first.
func (s *Store) ReadCanonical(ctx context.Context) ([]capsule.Capsule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.prev_id, c.producer_id, c.sequence_time, c.features, c.quality, c.delta_json
		FROM canonical ch
		JOIN capsules c ON c.id = ch.capsule_id
		ORDER BY ch.position
	`)
	if err != nil {
		return nil, fmt.Errorf("read canonical: %w", err)
	}
	defer rows.Close()

	var out []capsule.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, fmt.Errorf("read canonical: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReadCanonicalSuffix returns canonical capsules at and after position.
func (s *Store) ReadCanonicalSuffix(ctx context.Context, position int) ([]capsule.Capsule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.prev_id, c.producer_id, c.sequence_time, c.features, c.quality, c.delta_json
		FROM canonical ch
		JOIN capsules c ON c.id = ch.capsule_id
		WHERE ch.position >= ?
		ORDER BY ch.position
	`, position)
	if err != nil {
		return nil, fmt.Errorf("read canonical suffix: %w", err)
	}
	defer rows.Close()

	var out []capsule.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, fmt.Errorf("read canonical suffix: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// WriteOrphan appends an orphan record for a fork loser.
func (s *Store) WriteOrphan(ctx context.Context, o chain.Orphan) error {
	if err := s.PutCapsule(ctx, o.Capsule); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orphans (capsule_id, winner_id, reason, recorded_at)
		VALUES (?, ?, ?, ?)
	`, o.Capsule.ID, o.WinnerID, o.Reason, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write orphan: %w", err)
	}
	return nil
}

// OrphanRecord is one row of the orphan audit log.
type OrphanRecord struct {
	CapsuleID  string
	WinnerID   string
	Reason     string
	RecordedAt time.Time
}

// ReadOrphans returns the orphan log in record order.
func (s *Store) ReadOrphans(ctx context.Context) ([]OrphanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT capsule_id, winner_id, reason, recorded_at FROM orphans ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("read orphans: %w", err)
	}
	defer rows.Close()

	var out []OrphanRecord
	for rows.Next() {
		var r OrphanRecord
		var ts string
		if err := rows.Scan(&r.CapsuleID, &r.WinnerID, &r.Reason, &ts); err != nil {
			return nil, fmt.Errorf("read orphans: scan: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
