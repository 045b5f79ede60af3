// Package engine drives capsule integration.
//
// The engine owns every mutable structure on the node - canonical
// chain, trust table, safety statistics, derived state - behind a
// single-writer discipline: one loop validates, resolves, and folds
// capsules strictly sequentially, so no locking is needed on the
// domain structures. Cross-node interaction happens only through
// immutable capsule exchange.
//
// Integration is continue-on-reject: a batch always completes and
// returns a per-capsule outcome list. Domain rejections (malformed,
// stale, implausible, fork losses) are recorded outcomes, never
// aborting errors; only durable-write failures abort, since losing the
// queue would break the append-only audit guarantee.
package engine
