package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/config"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/transport"
)

func TestSync_BoundedRetryMovesToDeadLetter(t *testing.T) {
	const ceiling = 3
	n := newTestNode(t, func(c *config.Config) { c.Sync.MaxRetries = ceiling })
	ctx := context.Background()

	// The parent of this capsule never arrives.
	missing := extend(t, "", producerX, 1, 2.0)
	stranded := extend(t, missing.ID, producerX, 2, 2.0)

	outs, err := n.Integrate(ctx, []capsule.Capsule{stranded})
	require.NoError(t, err)
	require.Equal(t, StatusHeld, outs[0].Status)

	// Each no-progress sync burns one attempt; the last one dead-letters.
	for i := 1; i < ceiling; i++ {
		outs, err = n.Sync(ctx)
		require.NoError(t, err)
		require.Len(t, outs, 1)
		assert.Equal(t, StatusHeld, outs[0].Status, "attempt %d", i)
	}
	outs, err = n.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, StatusDeadLettered, outs[0].Status)

	// Gone from the drain set, never retried again, never deleted.
	outs, err = n.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, outs)

	letters, err := n.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, stranded.ID, letters[0].CapsuleID)
	assert.Equal(t, ceiling, letters[0].RetryCount)

	// The capsule itself is still inspectable in the ledger.
	_, gerr := n.store.GetCapsule(ctx, stranded.ID)
	assert.NoError(t, gerr)
}

func TestSync_InQueueReorderingDoesNotBurnRetries(t *testing.T) {
	n := newTestNode(t, func(c *config.Config) { c.Sync.MaxRetries = 2 })
	ctx := context.Background()

	// Five chained capsules delivered in reverse: every entry is held
	// until its parent lands in the same Sync call. With the ceiling at
	// 2, charging per-pass retries would dead-letter the deepest ones.
	var chain []capsule.Capsule
	prev := ""
	for i := int64(1); i <= 5; i++ {
		c := extend(t, prev, producerX, i, 2.0)
		chain = append(chain, c)
		prev = c.ID
	}
	reversed := make([]capsule.Capsule, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		reversed = append(reversed, chain[i])
	}

	_, err := n.Integrate(ctx, reversed)
	require.NoError(t, err)

	_, err = n.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, n.ChainLength())
	assert.Equal(t, prev, n.TipID())
	letters, err := n.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestSync_OneOutcomePerCapsule(t *testing.T) {
	n := newTestNode(t, nil)
	ctx := context.Background()

	// Two queued capsules: one attaches once its parent lands mid-sync,
	// one stays stranded. The stranded entry survives the progress pass
	// pending and must be reported exactly once, by the terminal pass.
	g := extend(t, "", producerX, 1, 2.0)
	child := extend(t, g.ID, producerX, 2, 2.0)
	lost := extend(t, g.ID, producerX, 3, 2.0)
	stranded := extend(t, lost.ID, producerX, 4, 2.0)

	_, err := n.Integrate(ctx, []capsule.Capsule{stranded, child})
	require.NoError(t, err)
	_, err = n.Integrate(ctx, []capsule.Capsule{g})
	require.NoError(t, err)

	outs, err := n.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, outs, 2)

	statuses := make(map[string]Status, len(outs))
	for _, o := range outs {
		_, dup := statuses[o.CapsuleID]
		require.False(t, dup, "capsule %s reported twice", o.CapsuleID)
		statuses[o.CapsuleID] = o.Status
	}
	assert.Equal(t, StatusAccepted, statuses[child.ID])
	assert.Equal(t, StatusHeld, statuses[stranded.ID])
}

func TestRun_AbsorbsDuplicatesAndReordering(t *testing.T) {
	n := newTestNode(t, nil)
	ctx := context.Background()

	var caps []capsule.Capsule
	prev := ""
	for i := int64(1); i <= 6; i++ {
		c := extend(t, prev, producerX, i, 2.0)
		caps = append(caps, c)
		prev = c.ID
	}

	// At-least-once channel duplicating every 2nd payload; children
	// shipped before parents in pairs.
	ch := transport.NewLoopback(2)
	order := []int{1, 0, 3, 2, 5, 4}
	for _, i := range order {
		require.NoError(t, n.Send(ctx, ch, caps[i]))
	}
	require.NoError(t, ch.Close())

	require.NoError(t, n.Run(ctx, ch))

	assert.Equal(t, 6, n.ChainLength())
	assert.Equal(t, prev, n.TipID())
	assert.Equal(t, uint64(6), n.State().Accepted)
	depth, err := n.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestRun_DropsTamperedPayloads(t *testing.T) {
	n := newTestNode(t, nil)
	ctx := context.Background()

	g := extend(t, "", producerX, 1, 2.0)
	evil := extend(t, g.ID, producerX, 2, 2.0)
	evil.Quality = 99 // mutated after sealing

	ch := transport.NewLoopback(0)
	payload, err := capsule.Encode(evil)
	require.NoError(t, err)
	require.NoError(t, ch.Send(ctx, payload))
	require.NoError(t, n.Send(ctx, ch, g))
	require.NoError(t, ch.Close())

	require.NoError(t, n.Run(ctx, ch))

	assert.Equal(t, 1, n.ChainLength())
	assert.Equal(t, g.ID, n.TipID())
	_, gerr := n.store.GetCapsule(ctx, evil.ID)
	assert.Error(t, gerr)
}
