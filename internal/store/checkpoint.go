package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/state"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

// ErrNoCheckpoint is returned by LoadCheckpoint on a fresh database.
var ErrNoCheckpoint = errors.New("store: no checkpoint")

// Checkpoint is the persisted form of a derived-state snapshot, plus
// the chain length needed to locate the replay suffix on restart.
type Checkpoint struct {
	State       state.DerivedState
	ChainLength int
	CreatedAt   time.Time
}

// SaveCheckpoint replaces the single checkpoint row. The caller passes
// the chain length at snapshot time; restart replays canonical
// positions at and after it.
func (s *Store) SaveCheckpoint(ctx context.Context, ds state.DerivedState, chainLength int) error {
	producersJSON, err := json.Marshal(ds.SeenProducers())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoint (id, tip_id, features, accepted, producers_json, chain_length, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tip_id = excluded.tip_id,
			features = excluded.features,
			accepted = excluded.accepted,
			producers_json = excluded.producers_json,
			chain_length = excluded.chain_length,
			created_at = excluded.created_at
	`,
		ds.TipID, encodeFeatures(ds.Features), ds.Accepted, string(producersJSON),
		chainLength, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint row, or ErrNoCheckpoint.
func (s *Store) LoadCheckpoint(ctx context.Context) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tip_id, features, accepted, producers_json, chain_length, created_at FROM checkpoint WHERE id = 1
	`)
	var tipID, producersJSON, ts string
	var blob []byte
	var accepted uint64
	var chainLength int
	if err := row.Scan(&tipID, &blob, &accepted, &producersJSON, &chainLength, &ts); err == sql.ErrNoRows {
		return Checkpoint{}, ErrNoCheckpoint
	} else if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	features, err := decodeFeatures(blob)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	var producers []string
	if err := json.Unmarshal([]byte(producersJSON), &producers); err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: producers: %w", err)
	}

	cp := Checkpoint{
		State:       state.Restore(features, tipID, accepted, producers),
		ChainLength: chainLength,
	}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	return cp, nil
}

// TrustRow is one persisted producer reputation entry.
type TrustRow struct {
	ProducerID string
	Score      trust.Score
	Revoked    bool
	Overridden bool
}

// SaveTrust replaces the persisted trust table with the given rows.
// Written in one transaction alongside checkpointing so that restart
// restores the resolver's exact tie-break behavior.
func (s *Store) SaveTrust(ctx context.Context, rows []TrustRow) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trust_scores`); err != nil {
			return fmt.Errorf("save trust: %w", err)
		}
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO trust_scores (producer_id, value, updates, revoked, overridden)
				VALUES (?, ?, ?, ?, ?)
			`, r.ProducerID, r.Score.Value, r.Score.Updates, boolInt(r.Revoked), boolInt(r.Overridden)); err != nil {
				return fmt.Errorf("save trust: %s: %w", r.ProducerID, err)
			}
		}
		return nil
	})
}

// LoadTrust reads the persisted trust table.
func (s *Store) LoadTrust(ctx context.Context) ([]TrustRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT producer_id, value, updates, revoked, overridden FROM trust_scores ORDER BY producer_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load trust: %w", err)
	}
	defer rows.Close()

	var out []TrustRow
	for rows.Next() {
		var r TrustRow
		var revoked, overridden int
		if err := rows.Scan(&r.ProducerID, &r.Score.Value, &r.Score.Updates, &revoked, &overridden); err != nil {
			return nil, fmt.Errorf("load trust: scan: %w", err)
		}
		r.Revoked = revoked != 0
		r.Overridden = overridden != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
