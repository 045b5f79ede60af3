package engine

// Status classifies what integration did with one capsule.
type Status string

const (
	// StatusAccepted - appended to the canonical chain (possibly after
	// winning a fork and evicting the incumbent branch).
	StatusAccepted Status = "accepted"

	// StatusHeld - parent unknown; the capsule waits in the sync queue
	// for its parent, bounded by the retry ceiling.
	StatusHeld Status = "held"

	// StatusDuplicate - already accepted or orphaned; re-delivery no-op.
	StatusDuplicate Status = "duplicate"

	// StatusOrphaned - lost a fork; recorded in the orphan ledger with a
	// reference to the winner.
	StatusOrphaned Status = "orphaned"

	// StatusRejectedMalformed - id does not match the recomputed hash.
	// Never stored, never queued.
	StatusRejectedMalformed Status = "rejected_malformed"

	// StatusRejectedStale - sequence_time beyond the skew tolerance.
	// Will never become valid; not retried.
	StatusRejectedStale Status = "rejected_stale"

	// StatusRejectedImplausible - failed the safety bound. Stored for
	// audit; the producer's trust is penalized.
	StatusRejectedImplausible Status = "rejected_implausible"

	// StatusQuarantined - producer below the trust floor. Stored for
	// audit, excluded from the canonical chain until trust recovers.
	StatusQuarantined Status = "quarantined"

	// StatusDroppedRevoked - producer administratively revoked. Dropped
	// with no storage at all.
	StatusDroppedRevoked Status = "dropped_revoked"

	// StatusDeadLettered - a held capsule that exhausted its retry
	// ceiling and moved to the dead-letter store.
	StatusDeadLettered Status = "dead_lettered"
)

// Outcome is the per-capsule result of batch integration.
type Outcome struct {
	CapsuleID  string
	ProducerID string
	Status     Status

	// Reason carries the rejection detail, empty on acceptance.
	Reason string

	// WinnerID names the capsule that won the fork when Status is
	// StatusOrphaned.
	WinnerID string

	// Reorged reports that acceptance evicted an incumbent branch.
	Reorged bool
}
