package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// RunWithGolden loads a scenario, runs it, and compares the canonical
// encoding of its trace against testdata/golden/<name>.golden.
//
// Update goldens with: go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenarioPath string) *Result {
	t.Helper()

	sc, err := Load(scenarioPath)
	require.NoError(t, err)

	res, err := Run(context.Background(), sc)
	require.NoError(t, err)

	events := make([]any, 0, len(res.Trace))
	for _, ev := range res.Trace {
		events = append(events, ev)
	}
	data, err := capsule.MarshalCanonical(map[string]any{
		"scenario": res.Scenario,
		"trace":    events,
	})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, res.Scenario, data)
	return res
}
