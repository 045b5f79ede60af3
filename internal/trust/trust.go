// Package trust maintains per-producer reputation scores.
//
// A score is an exponential moving average over the normalized quality
// of a producer's accepted capsules. Scores break ties at fork points,
// weight experience merges, and gate quarantine. They are node-local
// opinion: never transmitted, never merged across nodes.
package trust

import (
	"fmt"
	"sort"
)

// NeutralPrior is the score assigned to a producer never seen before.
const NeutralPrior = 0.5

// Status describes how the node currently treats a producer.
type Status string

const (
	// StatusActive producers compete normally at fork points.
	StatusActive Status = "active"

	// StatusQuarantined producers fell below the trust floor. Their
	// capsules are still stored for audit but excluded from the
	// resolver's winning set until the score recovers.
	StatusQuarantined Status = "quarantined"

	// StatusRevoked producers were administratively cut off. Their
	// capsules are dropped with no storage. Revocation is explicit,
	// never automatic.
	StatusRevoked Status = "revoked"
)

// Score is one producer's reputation.
type Score struct {
	Value   float64 // in [0,1]
	Updates int64   // accepted capsules folded into Value
}

// Config holds the scoring constants. All values come from node policy.
type Config struct {
	// Alpha is the EMA smoothing constant in (0,1). Higher alpha means
	// recent capsules dominate.
	Alpha float64

	// NormalizeK is the half-saturation constant: quality q normalizes
	// to q/(q+k), so no single event can swing trust to an extreme.
	NormalizeK float64

	// Floor is the quarantine threshold. Scores below it flag the
	// producer as quarantined.
	Floor float64
}

// Scorer is the per-producer reputation table.
//
// Not self-synchronized: the engine's single-writer loop is the only
// mutator, matching the shared-resource policy for the trust table.
type Scorer struct {
	cfg        Config
	scores     map[string]Score
	revoked    map[string]bool
	overridden map[string]bool // operator cleared quarantine despite the floor
}

// NewScorer creates an empty table with the given constants.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{
		cfg:        cfg,
		scores:     make(map[string]Score),
		revoked:    make(map[string]bool),
		overridden: make(map[string]bool),
	}
}

// Get returns the producer's score, defaulting to the neutral prior for
// producers never seen.
func (s *Scorer) Get(producerID string) Score {
	if sc, ok := s.scores[producerID]; ok {
		return sc
	}
	return Score{Value: NeutralPrior}
}

// Normalize maps a non-negative quality score into [0,1) with the
// saturating form q/(q+k).
func (s *Scorer) Normalize(quality float64) float64 {
	if quality <= 0 {
		return 0
	}
	return quality / (quality + s.cfg.NormalizeK)
}

// Update folds one accepted capsule's quality into the producer's EMA
// and returns the new score. Monotone bounded: the result stays in
// [0,1] for any input.
func (s *Scorer) Update(producerID string, quality float64) Score {
	prev := s.Get(producerID)
	next := Score{
		Value:   s.cfg.Alpha*s.Normalize(quality) + (1-s.cfg.Alpha)*prev.Value,
		Updates: prev.Updates + 1,
	}
	s.scores[producerID] = next
	return next
}

// Penalize applies a zero-quality update. Used when a producer's
// capsule fails the safety bound: the event is rejected but the
// producer pays for it.
func (s *Scorer) Penalize(producerID string) Score {
	return s.Update(producerID, 0)
}

// StatusOf derives the producer's current standing.
func (s *Scorer) StatusOf(producerID string) Status {
	if s.revoked[producerID] {
		return StatusRevoked
	}
	if s.Get(producerID).Value < s.cfg.Floor && !s.overridden[producerID] {
		return StatusQuarantined
	}
	return StatusActive
}

// Revoke administratively cuts a producer off. Distinct from
// quarantine: revoked capsules are dropped entirely, not stored.
func (s *Scorer) Revoke(producerID string) {
	s.revoked[producerID] = true
}

// Reinstate reverses a revocation and resets the producer to the
// neutral prior. This is the only path by which a score is ever reset.
func (s *Scorer) Reinstate(producerID string) {
	delete(s.revoked, producerID)
	delete(s.scores, producerID)
}

// Override sets or clears the operator quarantine exemption.
func (s *Scorer) Override(producerID string, exempt bool) {
	if exempt {
		s.overridden[producerID] = true
	} else {
		delete(s.overridden, producerID)
	}
}

// Snapshot exports the table for checkpointing.
func (s *Scorer) Snapshot() map[string]Score {
	out := make(map[string]Score, len(s.scores))
	for k, v := range s.scores {
		out[k] = v
	}
	return out
}

// Flags exports the administrative sets for checkpointing, sorted.
func (s *Scorer) Flags() (revoked, overridden []string) {
	for p := range s.revoked {
		revoked = append(revoked, p)
	}
	for p := range s.overridden {
		overridden = append(overridden, p)
	}
	sort.Strings(revoked)
	sort.Strings(overridden)
	return revoked, overridden
}

// Restore replaces the table contents from a checkpoint.
func (s *Scorer) Restore(scores map[string]Score) error {
	for p, sc := range scores {
		if sc.Value < 0 || sc.Value > 1 {
			return fmt.Errorf("trust: restore: score for %s out of range: %v", p, sc.Value)
		}
	}
	s.scores = make(map[string]Score, len(scores))
	for k, v := range scores {
		s.scores[k] = v
	}
	return nil
}
