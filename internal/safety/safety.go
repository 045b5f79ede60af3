// Package safety gates capsule integration on statistical plausibility.
//
// Each producer accumulates per-component running statistics (Welford's
// online algorithm) over its accepted feature vectors. A new capsule
// whose components stray more than K standard deviations from that
// producer's history is flagged implausible: the engine rejects it and
// penalizes the producer's trust, but the capsule is still stored for
// audit. Until a producer has enough accepted history the gate stays
// open - a cold start must not reject everything.
package safety

import (
	"fmt"
	"math"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// Config holds the gate's policy constants.
type Config struct {
	// SigmaK is the tolerance in standard deviations.
	SigmaK float64

	// MinSamples is the accepted-capsule count below which the gate
	// does not judge a producer.
	MinSamples int
}

// Violation describes why a capsule failed the plausibility check.
type Violation struct {
	CapsuleID  string
	ProducerID string
	Component  int
	Value      float64
	Mean       float64
	StdDev     float64
}

func (v Violation) String() string {
	return fmt.Sprintf("component %d: value %g outside %g ± %g·σ (σ=%g)",
		v.Component, v.Value, v.Mean, v.StdDev, v.StdDev)
}

// componentStats is one Welford accumulator.
type componentStats struct {
	count int
	mean  float64
	m2    float64
}

func (cs *componentStats) observe(x float64) {
	cs.count++
	delta := x - cs.mean
	cs.mean += delta / float64(cs.count)
	cs.m2 += delta * (x - cs.mean)
}

func (cs *componentStats) stddev() float64 {
	if cs.count < 2 {
		return 0
	}
	return math.Sqrt(cs.m2 / float64(cs.count-1))
}

// Validator holds per-producer, per-component feature statistics.
//
// Not self-synchronized: mutated only from the engine's single-writer
// loop, like the trust table.
type Validator struct {
	cfg   Config
	stats map[string]*[capsule.FeatureDim]componentStats
}

// NewValidator creates an empty validator with the given policy.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.SigmaK <= 0 {
		return nil, fmt.Errorf("safety: sigma tolerance must be positive, got %v", cfg.SigmaK)
	}
	if cfg.MinSamples < 2 {
		return nil, fmt.Errorf("safety: min samples must be >= 2, got %d", cfg.MinSamples)
	}
	return &Validator{cfg: cfg, stats: make(map[string]*[capsule.FeatureDim]componentStats)}, nil
}

// Check judges the capsule against its producer's history. A nil return
// means plausible. Producers with fewer than MinSamples accepted
// capsules always pass, as does any component whose history has zero
// variance (a constant stream cannot define a meaningful band).
func (v *Validator) Check(c capsule.Capsule) *Violation {
	ps, ok := v.stats[c.ProducerID]
	if !ok {
		return nil
	}
	for i := range c.Features {
		cs := &ps[i]
		if cs.count < v.cfg.MinSamples {
			continue
		}
		sd := cs.stddev()
		if sd == 0 {
			continue
		}
		if math.Abs(c.Features[i]-cs.mean) > v.cfg.SigmaK*sd {
			return &Violation{
				CapsuleID:  c.ID,
				ProducerID: c.ProducerID,
				Component:  i,
				Value:      c.Features[i],
				Mean:       cs.mean,
				StdDev:     sd,
			}
		}
	}
	return nil
}

// Observe folds an accepted capsule into its producer's history.
// Only accepted capsules feed the statistics; a rejected outlier must
// not widen its own band.
func (v *Validator) Observe(c capsule.Capsule) {
	ps, ok := v.stats[c.ProducerID]
	if !ok {
		ps = &[capsule.FeatureDim]componentStats{}
		v.stats[c.ProducerID] = ps
	}
	for i, x := range c.Features {
		ps[i].observe(x)
	}
}

// Samples returns the number of accepted capsules observed for the
// producer.
func (v *Validator) Samples(producerID string) int {
	ps, ok := v.stats[producerID]
	if !ok {
		return 0
	}
	return ps[0].count
}
