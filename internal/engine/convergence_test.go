package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/config"
)

// TestConvergence_OrderIndependence delivers the same 1,000-capsule set
// from 3 producers to two independent nodes in two different random
// orders. Both nodes must end with the identical canonical chain and
// bit-for-bit identical derived state.
func TestConvergence_OrderIndependence(t *testing.T) {
	if testing.Short() {
		t.Skip("long convergence run")
	}

	const total = 1000
	producers := []string{
		"device-a-000000000000000000000000000000000000000000000000000000000000",
		"device-b-000000000000000000000000000000000000000000000000000000000000",
		"device-c-000000000000000000000000000000000000000000000000000000000000",
	}

	caps := make([]capsule.Capsule, 0, total)
	prev := ""
	for i := int64(1); i <= total; i++ {
		c := extend(t, prev, producers[i%3], i, 2.0)
		caps = append(caps, c)
		prev = c.ID
	}

	run := func(seed int64) *testNode {
		n := newTestNode(t, func(c *config.Config) {
			c.Sync.DrainBatch = 2 * total
			c.Sync.MaxRetries = 10 * total
			c.State.CheckpointEvery = 256
		})
		ctx := context.Background()

		shuffled := make([]capsule.Capsule, len(caps))
		copy(shuffled, caps)
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		_, err := n.Integrate(ctx, shuffled)
		require.NoError(t, err)
		_, err = n.Sync(ctx)
		require.NoError(t, err)

		depth, err := n.QueueDepth(ctx)
		require.NoError(t, err)
		require.Zero(t, depth, "every capsule must integrate once its parent is present")
		return n
	}

	a := run(1)
	b := run(2)

	assert.Equal(t, total, a.ChainLength())
	assert.Equal(t, total, b.ChainLength())
	assert.Equal(t, a.TipID(), b.TipID())

	// Exact equality on counters, bit-for-bit on the folded features:
	// both nodes replayed the same canonical order.
	assert.Equal(t, a.State().Accepted, b.State().Accepted)
	assert.Equal(t, a.State().Producers, b.State().Producers)
	assert.Equal(t, a.State().Features, b.State().Features)
	assert.Equal(t, uint64(3), a.State().Producers)

	for _, p := range producers {
		assert.Equal(t, a.TrustOf(p), b.TrustOf(p), "trust for %s", p)
	}

	letters, err := a.DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Empty(t, letters)
}
