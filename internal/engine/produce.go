package engine

import (
	"context"
	"fmt"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// Produce creates a local capsule linked to the current tip and runs it
// through the same integration pipeline as remote capsules.
//
// Local production is strictly sequential under the single-writer
// discipline: one capsule is fully integrated before the next is
// created, so the local stream can never fork against itself. The
// sequence clock guarantees a producer-monotonic sequence_time.
//
// The feature vector and quality score come from an upstream extractor
// this engine places no constraints on beyond shape.
func (e *Engine) Produce(ctx context.Context, features capsule.Features, quality float64, delta capsule.Delta) (capsule.Capsule, error) {
	seq := e.clock.Next()
	c, err := capsule.New(e.chain.TipID(), e.id.StableID, seq, features, quality, delta)
	if err != nil {
		return capsule.Capsule{}, fmt.Errorf("produce: %w", err)
	}

	out, err := e.integrateOne(ctx, c)
	if err != nil {
		return capsule.Capsule{}, err
	}
	if out.Status != StatusAccepted {
		// A node whose own producer is quarantined or failing its safety
		// band cannot extend the chain; the caller must surface this.
		return capsule.Capsule{}, fmt.Errorf("produce: local capsule not accepted: %s (%s)", out.Status, out.Reason)
	}
	return c, nil
}
