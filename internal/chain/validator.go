package chain

import (
	"fmt"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// Attachment describes where a validated candidate connects to the
// known chain.
type Attachment struct {
	// ParentID is the accepted capsule the candidate extends ("" for
	// the genesis slot).
	ParentID string

	// Position is the canonical index the candidate would occupy.
	Position int

	// Incumbent is the id of the capsule currently holding that
	// position, or "" if the candidate extends the tip. A non-empty
	// incumbent means a fork: the resolver must pick a winner.
	Incumbent string
}

// Validator checks structural integrity and linkage of candidates
// against the canonical chain.
type Validator struct {
	chain *Chain

	// epsilon is the clock-skew tolerance: a candidate may precede its
	// parent's sequence_time by at most this much.
	epsilon int64
}

// NewValidator creates a validator over the given chain with skew
// tolerance epsilon (same unit as capsule sequence_time).
func NewValidator(c *Chain, epsilon int64) *Validator {
	return &Validator{chain: c, epsilon: epsilon}
}

// Validate verifies a candidate and returns its attachment point.
//
// Reject reasons, in check order:
//   - Malformed: id does not match the recomputed hash
//   - Duplicate: already accepted or already orphaned
//   - UnknownParent: prev_id matches no accepted capsule (hold, do not
//     discard - the parent may still arrive)
//   - StaleTimestamp: sequence_time precedes the parent's by more than
//     the tolerance (skew or replay guard; never becomes valid)
//
// Validation never mutates the chain.
func (v *Validator) Validate(cand capsule.Capsule) (Attachment, error) {
	if err := capsule.Verify(cand); err != nil {
		return Attachment{}, &ValidationError{
			Code:      CodeMalformed,
			CapsuleID: cand.ID,
			Message:   err.Error(),
		}
	}

	if v.chain.Known(cand.ID) {
		return Attachment{}, &ValidationError{
			Code:      CodeDuplicate,
			CapsuleID: cand.ID,
			Message:   "capsule already integrated",
		}
	}

	if cand.IsGenesis() {
		att := Attachment{ParentID: "", Position: 0}
		if inc, ok := v.chain.ChildOf(""); ok {
			att.Incumbent = inc.ID
		}
		return att, nil
	}

	parent, ok := v.chain.Get(cand.PrevID)
	if !ok {
		return Attachment{}, &ValidationError{
			Code:      CodeUnknownParent,
			CapsuleID: cand.ID,
			Message:   fmt.Sprintf("parent %s not in canonical chain", cand.PrevID),
		}
	}

	if cand.SequenceTime < parent.SequenceTime-v.epsilon {
		return Attachment{}, &ValidationError{
			Code:      CodeStaleTimestamp,
			CapsuleID: cand.ID,
			Message: fmt.Sprintf("sequence_time %d precedes parent's %d beyond tolerance %d",
				cand.SequenceTime, parent.SequenceTime, v.epsilon),
		}
	}

	pos, _ := v.chain.Position(parent.ID)
	att := Attachment{ParentID: parent.ID, Position: pos + 1}
	if inc, ok := v.chain.ChildOf(parent.ID); ok {
		att.Incumbent = inc.ID
	}
	return att, nil
}
