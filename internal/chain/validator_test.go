package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

const testEpsilon = 5

func chainWithGenesis(t *testing.T) (*Chain, capsule.Capsule) {
	t.Helper()
	c := New()
	g := mk(t, "", "dev-a", 100, 1)
	require.NoError(t, c.Append(g))
	return c, g
}

func TestValidate_AcceptsTipExtension(t *testing.T) {
	c, g := chainWithGenesis(t)
	v := NewValidator(c, testEpsilon)

	cand := mk(t, g.ID, "dev-b", 101, 2)
	att, err := v.Validate(cand)
	require.NoError(t, err)
	assert.Equal(t, g.ID, att.ParentID)
	assert.Equal(t, 1, att.Position)
	assert.Empty(t, att.Incumbent)
}

func TestValidate_DetectsFork(t *testing.T) {
	c, g := chainWithGenesis(t)
	first := mk(t, g.ID, "dev-a", 101, 1)
	require.NoError(t, c.Append(first))
	v := NewValidator(c, testEpsilon)

	rival := mk(t, g.ID, "dev-b", 102, 3)
	att, err := v.Validate(rival)
	require.NoError(t, err)
	assert.Equal(t, first.ID, att.Incumbent)
	assert.Equal(t, 1, att.Position)
}

func TestValidate_RejectsTampered(t *testing.T) {
	c, g := chainWithGenesis(t)
	v := NewValidator(c, testEpsilon)

	cand := mk(t, g.ID, "dev-b", 101, 2)
	cand.Quality = 999 // mutate after sealing

	_, err := v.Validate(cand)
	assert.Equal(t, CodeMalformed, CodeOf(err))
}

func TestValidate_HoldsUnknownParent(t *testing.T) {
	c, _ := chainWithGenesis(t)
	v := NewValidator(c, testEpsilon)

	missing := mk(t, "", "dev-x", 50, 1)
	cand := mk(t, missing.ID, "dev-b", 101, 2)

	_, err := v.Validate(cand)
	assert.True(t, IsUnknownParent(err))
}

func TestValidate_RejectsStaleTimestamp(t *testing.T) {
	c, g := chainWithGenesis(t)
	v := NewValidator(c, testEpsilon)

	// Within tolerance: parent 100, candidate 95, epsilon 5 -> accepted.
	ok := mk(t, g.ID, "dev-b", 95, 2)
	_, err := v.Validate(ok)
	assert.NoError(t, err)

	// Beyond tolerance: 94 is one past the guard.
	stale := mk(t, g.ID, "dev-b", 94, 2)
	_, err = v.Validate(stale)
	assert.Equal(t, CodeStaleTimestamp, CodeOf(err))
}

func TestValidate_RejectsDuplicates(t *testing.T) {
	c, g := chainWithGenesis(t)
	v := NewValidator(c, testEpsilon)

	_, err := v.Validate(g)
	assert.True(t, IsDuplicate(err))

	// Orphans count as known too.
	loser := mk(t, g.ID, "dev-b", 101, 1)
	c.AddOrphan(Orphan{Capsule: loser, WinnerID: "w", Reason: "lost fork"})
	_, err = v.Validate(loser)
	assert.True(t, IsDuplicate(err))
}

func TestValidate_SecondGenesisIsGenesisSlotContender(t *testing.T) {
	c, g := chainWithGenesis(t)
	v := NewValidator(c, testEpsilon)

	rival := mk(t, "", "dev-b", 99, 5)
	att, err := v.Validate(rival)
	require.NoError(t, err)
	assert.Equal(t, 0, att.Position)
	assert.Equal(t, g.ID, att.Incumbent)
}
