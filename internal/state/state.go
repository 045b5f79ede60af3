// Package state reconstructs derived node state by replaying the
// canonical capsule chain.
//
// Derived state is owned exclusively by the local node and never
// transmitted - only the capsules that produce it travel. Any node
// replaying the same canonical chain reconstructs the identical state,
// which is what makes checkpoint + suffix replay safe: it must equal a
// full replay from genesis, and the tests hold it to that.
package state

import (
	"fmt"
	"sort"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// DerivedState is the pure, recomputable aggregate of a canonical
// chain: a recency-weighted running average of feature vectors plus
// monotonic counters.
type DerivedState struct {
	// Features is the decayed running average of accepted capsules'
	// feature vectors.
	Features capsule.Features

	// Accepted counts capsules folded into this state.
	Accepted uint64

	// Producers counts distinct producer ids seen.
	Producers uint64

	// TipID is the id of the last capsule folded.
	TipID string

	// seen tracks producer ids for the distinct-producer counter.
	seen map[string]struct{}
}

// NewDerivedState returns the empty (genesis-less) state.
func NewDerivedState() DerivedState {
	return DerivedState{seen: make(map[string]struct{})}
}

// SeenProducers returns the distinct producer ids in sorted order.
// Persisted with checkpoints so that resume counts new producers
// exactly as a full replay would.
func (s *DerivedState) SeenProducers() []string {
	out := make([]string, 0, len(s.seen))
	for p := range s.seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Restore rebuilds a DerivedState from checkpointed fields.
func Restore(features capsule.Features, tipID string, accepted uint64, producers []string) DerivedState {
	s := DerivedState{
		Features: features,
		Accepted: accepted,
		TipID:    tipID,
		seen:     make(map[string]struct{}, len(producers)),
	}
	for _, p := range producers {
		s.seen[p] = struct{}{}
	}
	s.Producers = uint64(len(s.seen))
	return s
}

// clone returns a deep copy so folding never aliases a checkpoint.
func (s DerivedState) clone() DerivedState {
	out := s
	out.seen = make(map[string]struct{}, len(s.seen))
	for p := range s.seen {
		out.seen[p] = struct{}{}
	}
	return out
}

// Reconstructor folds capsule sequences into derived state.
// Pure: no I/O, no clocks, fully deterministic.
type Reconstructor struct {
	// decay in (0,1) controls recency weighting:
	// state' = decay*state + (1-decay)*features.
	decay float64
}

// NewReconstructor creates a reconstructor with the given decay.
func NewReconstructor(decay float64) (*Reconstructor, error) {
	if decay <= 0 || decay >= 1 {
		return nil, fmt.Errorf("state: decay must be in (0,1), got %v", decay)
	}
	return &Reconstructor{decay: decay}, nil
}

// Apply folds one capsule into the state, in place.
func (r *Reconstructor) Apply(s *DerivedState, c capsule.Capsule) {
	for i := range s.Features {
		s.Features[i] = r.decay*s.Features[i] + (1-r.decay)*c.Features[i]
	}
	s.Accepted++
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[c.ProducerID]; !ok {
		s.seen[c.ProducerID] = struct{}{}
		s.Producers++
	}
	s.TipID = c.ID
}

// Reconstruct replays an ordered, validated capsule sequence from
// scratch. The input must be the canonical chain (genesis first).
func (r *Reconstructor) Reconstruct(canonical []capsule.Capsule) DerivedState {
	s := NewDerivedState()
	for _, c := range canonical {
		r.Apply(&s, c)
	}
	return s
}

// Resume folds a suffix of new capsules onto a checkpointed state.
// Checkpoint + suffix must equal full recomputation from genesis; the
// caller guarantees suffix[0] extends checkpoint.TipID.
func (r *Reconstructor) Resume(checkpoint DerivedState, suffix []capsule.Capsule) (DerivedState, error) {
	if len(suffix) > 0 && checkpoint.TipID != "" && suffix[0].PrevID != checkpoint.TipID {
		return DerivedState{}, fmt.Errorf("state: resume: suffix head %s does not extend checkpoint tip %s",
			suffix[0].ID, checkpoint.TipID)
	}
	s := checkpoint.clone()
	for _, c := range suffix {
		r.Apply(&s, c)
	}
	return s, nil
}
