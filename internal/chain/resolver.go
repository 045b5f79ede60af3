package chain

import (
	"fmt"
	"sort"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

// Resolver selects exactly one canonical successor when capsules
// compete for the same chain position.
type Resolver struct {
	trust *trust.Scorer
}

// NewResolver creates a resolver backed by the node's trust table.
func NewResolver(t *trust.Scorer) *Resolver {
	return &Resolver{trust: t}
}

// Resolution is the outcome of one fork decision.
type Resolution struct {
	Winner capsule.Capsule
	Losers []capsule.Capsule // deterministic order: strongest loser first
}

// Resolve picks the winner among contenders that all claim the same
// prev_id. The total order is deterministic:
//
//  1. higher producer trust wins
//  2. tie: higher quality_score wins
//  3. tie: lexicographically smaller id wins
//
// Quarantined producers are excluded from the winning set: their
// capsules can only lose. If every contender is quarantined the fork is
// unresolvable and an error is returned; the capsules stay stored for
// audit until trust recovers.
//
// Resolve is pure: recording losers as orphans is the caller's move.
func (r *Resolver) Resolve(contenders []capsule.Capsule) (Resolution, error) {
	if len(contenders) == 0 {
		return Resolution{}, fmt.Errorf("resolve: no contenders")
	}
	prev := contenders[0].PrevID
	for _, c := range contenders[1:] {
		if c.PrevID != prev {
			return Resolution{}, fmt.Errorf("resolve: contenders disagree on prev_id (%q vs %q)", prev, c.PrevID)
		}
	}

	ordered := make([]capsule.Capsule, len(contenders))
	copy(ordered, contenders)
	sort.Slice(ordered, func(i, j int) bool { return r.less(ordered[i], ordered[j]) })

	eligible := ordered[:0:0]
	for _, c := range ordered {
		if r.trust.StatusOf(c.ProducerID) == trust.StatusActive {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return Resolution{}, fmt.Errorf("resolve: all %d contenders quarantined or revoked", len(contenders))
	}

	winner := eligible[0]
	losers := make([]capsule.Capsule, 0, len(ordered)-1)
	for _, c := range ordered {
		if c.ID != winner.ID {
			losers = append(losers, c)
		}
	}
	return Resolution{Winner: winner, Losers: losers}, nil
}

// less implements the resolver's total order: it returns true when a
// beats b. The id tiebreak guarantees no two correct nodes can disagree
// given the same contender set and trust values.
func (r *Resolver) less(a, b capsule.Capsule) bool {
	ta := r.trust.Get(a.ProducerID).Value
	tb := r.trust.Get(b.ProducerID).Value
	if ta != tb {
		return ta > tb
	}
	if a.Quality != b.Quality {
		return a.Quality > b.Quality
	}
	return a.ID < b.ID
}
