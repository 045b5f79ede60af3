// Package store provides durable storage for the node's capsule ledger,
// sync queue, orphan and dead-letter logs, trust snapshot, and the
// derived-state checkpoint.
//
// Three guarantees shape the schema:
//
//  1. Append-only audit: capsules, orphan records and dead-letter
//     entries are never deleted, only flagged.
//  2. Idempotent writes: every insert keyed by capsule id uses
//     ON CONFLICT DO NOTHING, so crash/replay re-writes are no-ops.
//  3. Checkpoint + suffix replay: the checkpoint row stores enough of
//     the derived state (feature vector, counters, producer set, tip)
//     that resuming equals a full replay from genesis.
//
// Storage failures are the only errors the integration pipeline treats
// as fatal; everything else is a per-capsule outcome.
package store
