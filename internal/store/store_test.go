package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/chain"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/state"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sealed(t *testing.T, prevID, producer string, seq int64, quality float64) capsule.Capsule {
	t.Helper()
	c, err := capsule.New(prevID, producer, seq,
		capsule.Features{float64(seq), 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}, quality, capsule.Delta{})
	require.NoError(t, err)
	return c
}

func TestOpen_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.PutCapsule(context.Background(), sealed(t, "", "dev-a", 1, 2.0)))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetCapsule(context.Background(), sealed(t, "", "dev-a", 1, 2.0).ID)
	require.NoError(t, err)
	assert.Equal(t, "dev-a", got.ProducerID)
}

func TestPutCapsule_RoundTripAndDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	delta := capsule.Delta{
		Counters: map[string]int64{"observe": 4},
		Metrics:  map[string]float64{"drift": 0.25},
	}
	c, err := capsule.New("", "dev-a", 10, capsule.Features{1, 2, 3, 4, 5, 6, 7, 8}, 3.5, delta)
	require.NoError(t, err)

	require.NoError(t, s.PutCapsule(ctx, c))
	require.NoError(t, s.PutCapsule(ctx, c)) // re-delivery is a no-op

	got, err := s.GetCapsule(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Features, got.Features)
	assert.Equal(t, c.Quality, got.Quality)
	assert.Equal(t, delta.Counters, got.Delta.Counters)
	assert.Equal(t, delta.Metrics, got.Delta.Metrics)
	require.NoError(t, capsule.Verify(got))
}

func TestCanonical_AppendReadTruncate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := sealed(t, "", "dev-a", 1, 2.0)
	c1 := sealed(t, g.ID, "dev-a", 2, 2.0)
	c2 := sealed(t, c1.ID, "dev-b", 3, 2.0)
	for i, c := range []capsule.Capsule{g, c1, c2} {
		require.NoError(t, s.PutCapsule(ctx, c))
		require.NoError(t, s.AppendCanonical(ctx, i, c.ID))
	}

	path, err := s.ReadCanonical(ctx)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, g.ID, path[0].ID)
	assert.Equal(t, c2.ID, path[2].ID)

	suffix, err := s.ReadCanonicalSuffix(ctx, 1)
	require.NoError(t, err)
	require.Len(t, suffix, 2)
	assert.Equal(t, c1.ID, suffix[0].ID)

	// A stronger branch replaces everything from position 1.
	require.NoError(t, s.TruncateCanonical(ctx, 1, "winner-id", "lost conflict resolution"))

	path, err = s.ReadCanonical(ctx)
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, g.ID, path[0].ID)

	orphans, err := s.ReadOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	assert.Equal(t, c1.ID, orphans[0].CapsuleID)
	assert.Equal(t, c2.ID, orphans[1].CapsuleID)
	assert.Equal(t, "winner-id", orphans[0].WinnerID)

	// Evicted capsules stay in the ledger for audit.
	_, err = s.GetCapsule(ctx, c2.ID)
	require.NoError(t, err)
}

func TestWriteOrphan_StoresCapsule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	loser := sealed(t, "", "dev-b", 5, 1.0)
	require.NoError(t, s.WriteOrphan(ctx, chain.Orphan{
		Capsule:  loser,
		WinnerID: "winner-id",
		Reason:   "lost conflict resolution",
	}))

	got, err := s.GetCapsule(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, loser.ID, got.ID)

	orphans, err := s.ReadOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, loser.ID, orphans[0].CapsuleID)
}

func TestSyncQueue_EnqueueDrainAck(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := sealed(t, "", "dev-a", 1, 2.0)
	b := sealed(t, a.ID, "dev-b", 2, 2.0)

	ins, err := s.EnqueueSync(ctx, a, now)
	require.NoError(t, err)
	assert.True(t, ins)
	ins, err = s.EnqueueSync(ctx, b, now)
	require.NoError(t, err)
	assert.True(t, ins)

	// Re-enqueue of a queued capsule is a no-op.
	ins, err = s.EnqueueSync(ctx, a, now)
	require.NoError(t, err)
	assert.False(t, ins)

	entries, err := s.DrainSync(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, a.ID, entries[0].Capsule.ID) // FIFO
	assert.Equal(t, b.ID, entries[1].Capsule.ID)
	assert.Equal(t, 0, entries[0].RetryCount)

	// Drain does not consume.
	entries, err = s.DrainSync(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, s.AckSync(ctx, a.ID))
	entries, err = s.DrainSync(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].Capsule.ID)

	// Re-enqueue after integration stays a no-op.
	ins, err = s.EnqueueSync(ctx, a, now)
	require.NoError(t, err)
	assert.False(t, ins)

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestSyncQueue_RetryCeilingDeadLetters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := sealed(t, "missing-parent", "dev-a", 9, 2.0)
	_, err := s.EnqueueSync(ctx, c, time.Now())
	require.NoError(t, err)

	const maxRetries = 3
	for i := 1; i < maxRetries; i++ {
		dead, err := s.FailSync(ctx, c.ID, "unknown parent", maxRetries)
		require.NoError(t, err)
		assert.False(t, dead, "attempt %d", i)
	}

	dead, err := s.FailSync(ctx, c.ID, "unknown parent", maxRetries)
	require.NoError(t, err)
	assert.True(t, dead)

	// Dead entries leave the drain set but stay audited.
	entries, err := s.DrainSync(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	letters, err := s.ReadDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, c.ID, letters[0].CapsuleID)
	assert.Equal(t, "unknown parent", letters[0].Reason)
	assert.Equal(t, maxRetries, letters[0].RetryCount)

	// Failing a dead entry again changes nothing.
	dead, err = s.FailSync(ctx, c.ID, "unknown parent", maxRetries)
	require.NoError(t, err)
	assert.False(t, dead)
}

func TestCheckpoint_SaveLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LoadCheckpoint(ctx)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	ds := state.Restore(
		capsule.Features{0.5, 0.25, 0, 0, 0, 0, 0, 1},
		"tip-id", 42, []string{"dev-a", "dev-b"},
	)
	require.NoError(t, s.SaveCheckpoint(ctx, ds, 42))

	cp, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, ds.Features, cp.State.Features)
	assert.Equal(t, "tip-id", cp.State.TipID)
	assert.Equal(t, uint64(42), cp.State.Accepted)
	assert.Equal(t, uint64(2), cp.State.Producers)
	assert.Equal(t, []string{"dev-a", "dev-b"}, cp.State.SeenProducers())
	assert.Equal(t, 42, cp.ChainLength)

	// A later checkpoint replaces the row.
	ds2 := state.Restore(ds.Features, "tip-2", 50, []string{"dev-a", "dev-b", "dev-c"})
	require.NoError(t, s.SaveCheckpoint(ctx, ds2, 50))
	cp, err = s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tip-2", cp.State.TipID)
	assert.Equal(t, 50, cp.ChainLength)
}

func TestTrust_SaveLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows := []TrustRow{
		{ProducerID: "dev-a", Score: trust.Score{Value: 0.72, Updates: 9}},
		{ProducerID: "dev-b", Score: trust.Score{Value: 0.12, Updates: 3}, Overridden: true},
		{ProducerID: "dev-c", Score: trust.Score{Value: 0.5}, Revoked: true},
	}
	require.NoError(t, s.SaveTrust(ctx, rows))

	got, err := s.LoadTrust(ctx)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	// Save replaces, not merges.
	require.NoError(t, s.SaveTrust(ctx, rows[:1]))
	got, err = s.LoadTrust(ctx)
	require.NoError(t, err)
	assert.Equal(t, rows[:1], got)
}
