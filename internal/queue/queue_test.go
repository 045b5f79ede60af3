package queue

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/store"
)

func newTestQueue(t *testing.T, maxRetries int) *SyncQueue {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	q, err := New(st, maxRetries, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return q
}

func mkCapsule(t *testing.T, prevID, producer string, seq int64) capsule.Capsule {
	t.Helper()
	c, err := capsule.New(prevID, producer, seq,
		capsule.Features{float64(seq), 1, 2, 3, 4, 5, 6, 7}, 2.0, capsule.Delta{})
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadCeiling(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = New(st, 0, nil)
	assert.Error(t, err)
}

func TestEnqueue_Dedup(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()
	c := mkCapsule(t, "", "dev-a", 1)

	ins, err := q.Enqueue(ctx, c, time.Now())
	require.NoError(t, err)
	assert.True(t, ins)

	ins, err = q.Enqueue(ctx, c, time.Now())
	require.NoError(t, err)
	assert.False(t, ins)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestFail_BoundedRetriesThenDeadLetter(t *testing.T) {
	const ceiling = 5
	q := newTestQueue(t, ceiling)
	ctx := context.Background()

	c := mkCapsule(t, "never-arrives", "dev-a", 7)
	_, err := q.Enqueue(ctx, c, time.Now())
	require.NoError(t, err)

	// Exactly ceiling attempts: the first ceiling-1 keep the entry
	// pending, the last one dead-letters it.
	for i := 1; i < ceiling; i++ {
		dead, err := q.Fail(ctx, c.ID, "unknown parent")
		require.NoError(t, err)
		assert.False(t, dead, "attempt %d", i)

		entries, err := q.Drain(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, i, entries[0].RetryCount)
	}

	dead, err := q.Fail(ctx, c.ID, "unknown parent")
	require.NoError(t, err)
	assert.True(t, dead)

	entries, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	letters, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, c.ID, letters[0].CapsuleID)
	assert.Equal(t, ceiling, letters[0].RetryCount)

	// Dead-lettered ids are still deduped on re-delivery.
	ins, err := q.Enqueue(ctx, c, time.Now())
	require.NoError(t, err)
	assert.False(t, ins)
}

func TestAck_RemovesFromDrainSet(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	a := mkCapsule(t, "", "dev-a", 1)
	b := mkCapsule(t, a.ID, "dev-b", 2)
	for _, c := range []capsule.Capsule{a, b} {
		_, err := q.Enqueue(ctx, c, time.Now())
		require.NoError(t, err)
	}

	require.NoError(t, q.Ack(ctx, a.ID))

	entries, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].Capsule.ID)
}
