package capsule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFeatures() Features {
	return Features{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
}

func TestComputeID_Deterministic(t *testing.T) {
	c, err := New("", "device-x", 1, testFeatures(), 2.0, Delta{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		id, err := ComputeID(c)
		require.NoError(t, err)
		assert.Equal(t, c.ID, id)
	}
}

func TestComputeID_SensitiveToEveryField(t *testing.T) {
	base, err := New("", "device-x", 1, testFeatures(), 2.0, Delta{
		Counters: map[string]int64{"reinforce": 1},
	})
	require.NoError(t, err)

	mutate := map[string]func(c *Capsule){
		"prev_id":       func(c *Capsule) { c.PrevID = base.ID },
		"producer_id":   func(c *Capsule) { c.ProducerID = "device-y" },
		"sequence_time": func(c *Capsule) { c.SequenceTime = 2 },
		"features":      func(c *Capsule) { c.Features[3] += 0.001 },
		"quality_score": func(c *Capsule) { c.Quality = 2.5 },
		"delta":         func(c *Capsule) { c.Delta.Counters["reinforce"] = 9 },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			c := base
			c.Delta = base.Delta.Clone()
			fn(&c)
			id, err := ComputeID(c)
			require.NoError(t, err)
			assert.NotEqual(t, base.ID, id, "mutating %s must change the id", name)
		})
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	c, err := New("", "device-x", 1, testFeatures(), 2.0, Delta{})
	require.NoError(t, err)
	require.NoError(t, Verify(c))

	tampered := c
	tampered.Quality = 99
	assert.Error(t, Verify(tampered))
}

func TestVerify_InstanceFieldsExcluded(t *testing.T) {
	// Two capsules with identical content minted by the same device in
	// different boots must carry the same id: only stable fields hash.
	a, err := New("", "device-x", 7, testFeatures(), 1.0, Delta{})
	require.NoError(t, err)
	b, err := New("", "device-x", 7, testFeatures(), 1.0, Delta{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestNew_RejectsBadInputs(t *testing.T) {
	_, err := New("", "", 1, testFeatures(), 1.0, Delta{})
	assert.Error(t, err, "empty producer")

	_, err = New("", "device-x", 1, testFeatures(), -1.0, Delta{})
	assert.Error(t, err, "negative quality")
}
