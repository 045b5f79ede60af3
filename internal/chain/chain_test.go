package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// mk seals a capsule for tests. Features vary with seq so ids differ.
func mk(t *testing.T, prev, producer string, seq int64, quality float64) capsule.Capsule {
	t.Helper()
	f := capsule.Features{float64(seq), 1, 2, 3, 4, 5, 6, 7}
	c, err := capsule.New(prev, producer, seq, f, quality, capsule.Delta{})
	require.NoError(t, err)
	return c
}

func TestChain_AppendAndTip(t *testing.T) {
	c := New()
	g := mk(t, "", "dev-a", 1, 1)
	require.NoError(t, c.Append(g))

	c1 := mk(t, g.ID, "dev-a", 2, 1)
	require.NoError(t, c.Append(c1))

	require.Equal(t, 2, c.Len())
	require.Equal(t, c1.ID, c.TipID())
	require.True(t, c.Contains(g.ID))

	child, ok := c.ChildOf(g.ID)
	require.True(t, ok)
	require.Equal(t, c1.ID, child.ID)
}

func TestChain_AppendRejectsBadLinkage(t *testing.T) {
	c := New()
	g := mk(t, "", "dev-a", 1, 1)
	require.NoError(t, c.Append(g))

	stray := mk(t, "deadbeef", "dev-a", 2, 1)
	require.Error(t, c.Append(stray))
	require.Error(t, c.Append(g), "double append")
}

func TestChain_TruncateFromOrphansSuffix(t *testing.T) {
	c := New()
	g := mk(t, "", "dev-a", 1, 1)
	c1 := mk(t, g.ID, "dev-a", 2, 1)
	c2 := mk(t, c1.ID, "dev-a", 3, 1)
	for _, cap := range []capsule.Capsule{g, c1, c2} {
		require.NoError(t, c.Append(cap))
	}

	evicted := c.TruncateFrom(1, "winner-id", "fork resolution")
	require.Len(t, evicted, 2)
	require.Equal(t, 1, c.Len())
	require.Equal(t, g.ID, c.TipID())

	// Evicted capsules are retained as orphans, never deleted.
	o, ok := c.Orphan(c1.ID)
	require.True(t, ok)
	require.Equal(t, "winner-id", o.WinnerID)
	require.True(t, c.Known(c2.ID))
	require.False(t, c.Contains(c2.ID))
}

func TestChain_ReattachmentClearsOrphan(t *testing.T) {
	c := New()
	g := mk(t, "", "dev-a", 1, 1)
	require.NoError(t, c.Append(g))
	c1 := mk(t, g.ID, "dev-a", 2, 1)
	require.NoError(t, c.Append(c1))

	c.TruncateFrom(1, "", "re-resolution")
	require.True(t, c.Known(c1.ID))

	// Explicit re-resolution may put the capsule back on the path.
	require.NoError(t, c.Append(c1))
	require.True(t, c.Contains(c1.ID))
	_, stillOrphan := c.Orphan(c1.ID)
	require.False(t, stillOrphan)
}
