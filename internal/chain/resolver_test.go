package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

// scorerWith pins trust values by feeding the EMA a single update with
// alpha=1, so tests control scores exactly.
func scorerWith(values map[string]float64) *trust.Scorer {
	s := trust.NewScorer(trust.Config{Alpha: 1, NormalizeK: 1, Floor: 0.1})
	for p, v := range values {
		// With alpha=1 and k=1, quality q yields score q/(q+1); invert.
		if v > 0 && v < 1 {
			s.Update(p, v/(1-v))
		} else if v == 0 {
			s.Penalize(p)
		}
	}
	return s
}

func TestResolve_HigherTrustWins(t *testing.T) {
	// trust(X)=0.6, trust(Y)=0.9: Y's capsule wins despite lower quality.
	s := scorerWith(map[string]float64{"dev-x": 0.6, "dev-y": 0.9})
	r := NewResolver(s)

	c1 := mk(t, "", "dev-x", 1, 10)
	c2 := mk(t, "", "dev-y", 1, 3)

	res, err := r.Resolve([]capsule.Capsule{c1, c2})
	require.NoError(t, err)
	assert.Equal(t, c2.ID, res.Winner.ID)
	require.Len(t, res.Losers, 1)
	assert.Equal(t, c1.ID, res.Losers[0].ID)
}

func TestResolve_QualityBreaksTrustTie(t *testing.T) {
	s := scorerWith(map[string]float64{"dev-x": 0.8, "dev-y": 0.8})
	r := NewResolver(s)

	a := mk(t, "", "dev-x", 1, 5)
	b := mk(t, "", "dev-y", 1, 7)

	res, err := r.Resolve([]capsule.Capsule{a, b})
	require.NoError(t, err)
	assert.Equal(t, b.ID, res.Winner.ID)
}

func TestResolve_IDBreaksFullTie(t *testing.T) {
	s := scorerWith(map[string]float64{"dev-x": 0.9, "dev-y": 0.9})
	r := NewResolver(s)

	a := mk(t, "", "dev-x", 1, 5)
	b := mk(t, "", "dev-y", 1, 5)

	want := a.ID
	if b.ID < a.ID {
		want = b.ID
	}

	// Stable across repeated runs and contender orderings.
	for i := 0; i < 10; i++ {
		res, err := r.Resolve([]capsule.Capsule{a, b})
		require.NoError(t, err)
		assert.Equal(t, want, res.Winner.ID)

		res, err = r.Resolve([]capsule.Capsule{b, a})
		require.NoError(t, err)
		assert.Equal(t, want, res.Winner.ID)
	}
}

func TestResolve_QuarantinedExcludedFromWinningSet(t *testing.T) {
	s := scorerWith(map[string]float64{"dev-q": 0, "dev-y": 0.3})
	require.Equal(t, trust.StatusQuarantined, s.StatusOf("dev-q"))
	r := NewResolver(s)

	quarantined := mk(t, "", "dev-q", 1, 100)
	normal := mk(t, "", "dev-y", 1, 1)

	res, err := r.Resolve([]capsule.Capsule{quarantined, normal})
	require.NoError(t, err)
	assert.Equal(t, normal.ID, res.Winner.ID)
}

func TestResolve_AllQuarantinedIsUnresolvable(t *testing.T) {
	s := scorerWith(map[string]float64{"dev-q": 0})
	r := NewResolver(s)

	c := mk(t, "", "dev-q", 1, 1)
	_, err := r.Resolve([]capsule.Capsule{c})
	assert.Error(t, err)
}

func TestResolve_MismatchedPrevIDRejected(t *testing.T) {
	s := scorerWith(nil)
	r := NewResolver(s)

	a := mk(t, "", "dev-x", 1, 1)
	b := mk(t, a.ID, "dev-x", 2, 1)

	_, err := r.Resolve([]capsule.Capsule{a, b})
	assert.Error(t, err)
}
