// Package experience accumulates the small counter/metric deltas that
// capsules carry, across devices.
//
// Unlike derived state - which is recomputed, never merged - experience
// deltas ARE merged, so the merge rules are chosen to make replay
// harmless: counters take the max (delivering the same delta twice
// changes nothing) and continuous metrics take a trust-weighted average
// over contributors.
package experience

import (
	"sort"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/trust"
)

// Contribution is one device's delta offered to a merge.
type Contribution struct {
	ProducerID string
	Delta      capsule.Delta
}

// Merger combines experience deltas under the node's trust table.
type Merger struct {
	trust *trust.Scorer
}

// NewMerger creates a merger backed by the node's trust table.
func NewMerger(t *trust.Scorer) *Merger {
	return &Merger{trust: t}
}

// Merge folds remote contributions into the local delta and returns the
// result. The local delta is not mutated.
//
// Rules:
//   - counters: element-wise max (idempotent under replay)
//   - metrics: trust-weighted average across all contributors,
//     the local node counting with its own producer's trust
//   - quarantined or revoked contributors are excluded entirely
func (m *Merger) Merge(localProducer string, local capsule.Delta, remotes []Contribution) capsule.Delta {
	out := local.Clone()

	// One delta per device per merge: at-least-once delivery may offer
	// the same contribution twice, and double-weighting a producer's
	// metrics would break replay idempotence.
	seen := make(map[string]bool, len(remotes))
	contribs := make([]Contribution, 0, len(remotes))
	for _, r := range remotes {
		if seen[r.ProducerID] {
			continue
		}
		seen[r.ProducerID] = true
		if m.trust.StatusOf(r.ProducerID) != trust.StatusActive {
			continue
		}
		contribs = append(contribs, r)
	}

	// Counters: max wins.
	for _, r := range contribs {
		for k, v := range r.Delta.Counters {
			if out.Counters == nil {
				out.Counters = make(map[string]int64)
			}
			if v > out.Counters[k] {
				out.Counters[k] = v
			}
		}
	}

	// Metrics: trust-weighted mean per key, over the contributors that
	// carry the key. Keys are walked in sorted order so float summation
	// order is deterministic.
	type acc struct {
		weighted float64
		weight   float64
	}
	sums := make(map[string]*acc)
	addMetric := func(producer string, k string, v float64) {
		w := m.trust.Get(producer).Value
		if w <= 0 {
			return
		}
		a, ok := sums[k]
		if !ok {
			a = &acc{}
			sums[k] = a
		}
		a.weighted += w * v
		a.weight += w
	}
	for k, v := range local.Metrics {
		addMetric(localProducer, k, v)
	}
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].ProducerID < contribs[j].ProducerID })
	for _, r := range contribs {
		keys := sortedKeys(r.Delta.Metrics)
		for _, k := range keys {
			addMetric(r.ProducerID, k, r.Delta.Metrics[k])
		}
	}
	for _, k := range sortedAccKeys(sums) {
		a := sums[k]
		if a.weight == 0 {
			continue
		}
		if out.Metrics == nil {
			out.Metrics = make(map[string]float64)
		}
		out.Metrics[k] = a.weighted / a.weight
	}

	return out
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedAccKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
