package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

func testChain(t *testing.T, n int, producers []string) []capsule.Capsule {
	t.Helper()
	out := make([]capsule.Capsule, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		f := capsule.Features{float64(i), float64(i) * 0.5, 1, 2, 3, 4, 5, 6}
		c, err := capsule.New(prev, producers[i%len(producers)], int64(i+1), f, 1.0, capsule.Delta{})
		require.NoError(t, err)
		out = append(out, c)
		prev = c.ID
	}
	return out
}

func TestReconstruct_Deterministic(t *testing.T) {
	r, err := NewReconstructor(0.9)
	require.NoError(t, err)
	chain := testChain(t, 50, []string{"a", "b", "c"})

	s1 := r.Reconstruct(chain)
	s2 := r.Reconstruct(chain)

	// Bit-for-bit: the fold is a fixed sequence of float operations.
	assert.Equal(t, s1.Features, s2.Features)
	assert.Equal(t, s1.Accepted, s2.Accepted)
	assert.Equal(t, s1.Producers, s2.Producers)
	assert.Equal(t, s1.TipID, s2.TipID)
}

func TestReconstruct_Counters(t *testing.T) {
	r, err := NewReconstructor(0.9)
	require.NoError(t, err)
	chain := testChain(t, 10, []string{"a", "b", "c"})

	s := r.Reconstruct(chain)
	assert.Equal(t, uint64(10), s.Accepted)
	assert.Equal(t, uint64(3), s.Producers)
	assert.Equal(t, chain[9].ID, s.TipID)
}

func TestResume_EqualsFullReplay(t *testing.T) {
	r, err := NewReconstructor(0.9)
	require.NoError(t, err)
	chain := testChain(t, 40, []string{"a", "b"})

	full := r.Reconstruct(chain)

	for _, cut := range []int{0, 1, 20, 39, 40} {
		checkpoint := r.Reconstruct(chain[:cut])
		resumed, err := r.Resume(checkpoint, chain[cut:])
		require.NoError(t, err)

		assert.Equal(t, full.Features, resumed.Features, "cut=%d", cut)
		assert.Equal(t, full.Accepted, resumed.Accepted, "cut=%d", cut)
		assert.Equal(t, full.Producers, resumed.Producers, "cut=%d", cut)
		assert.Equal(t, full.TipID, resumed.TipID, "cut=%d", cut)
	}
}

func TestResume_ProducerCountSurvivesCheckpoint(t *testing.T) {
	// Producer "a" appears both before and after the cut; resume must
	// not double-count it.
	r, err := NewReconstructor(0.5)
	require.NoError(t, err)
	chain := testChain(t, 6, []string{"a", "b", "a", "c", "a", "b"})

	checkpoint := r.Reconstruct(chain[:3])
	restored := Restore(checkpoint.Features, checkpoint.TipID, checkpoint.Accepted, checkpoint.SeenProducers())

	resumed, err := r.Resume(restored, chain[3:])
	require.NoError(t, err)
	assert.Equal(t, uint64(3), resumed.Producers)
}

func TestResume_RejectsDetachedSuffix(t *testing.T) {
	r, err := NewReconstructor(0.9)
	require.NoError(t, err)
	chain := testChain(t, 10, []string{"a"})

	checkpoint := r.Reconstruct(chain[:5])
	_, err = r.Resume(checkpoint, chain[7:])
	assert.Error(t, err)
}

func TestResume_DoesNotMutateCheckpoint(t *testing.T) {
	r, err := NewReconstructor(0.9)
	require.NoError(t, err)
	chain := testChain(t, 10, []string{"a", "b", "c"})

	checkpoint := r.Reconstruct(chain[:5])
	before := checkpoint.Producers

	_, err = r.Resume(checkpoint, chain[5:])
	require.NoError(t, err)
	assert.Equal(t, before, checkpoint.Producers)
	assert.Len(t, checkpoint.SeenProducers(), int(before))
}

func TestNewReconstructor_RejectsBadDecay(t *testing.T) {
	for _, d := range []float64{0, 1, -0.5, 1.5} {
		_, err := NewReconstructor(d)
		assert.Error(t, err, "decay=%v", d)
	}
}
