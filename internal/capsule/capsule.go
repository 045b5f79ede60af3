package capsule

import (
	"fmt"
	"math"
)

// New builds a capsule and seals it with its content-addressed id.
// prevID is empty only for a genesis capsule. Returns an error if any
// numeric field is non-finite or the quality score is negative; sealed
// capsules are valid by construction.
func New(prevID, producerID string, sequenceTime int64, features Features, quality float64, delta Delta) (Capsule, error) {
	if producerID == "" {
		return Capsule{}, fmt.Errorf("new capsule: producer id is required")
	}
	if quality < 0 || math.IsNaN(quality) || math.IsInf(quality, 0) {
		return Capsule{}, fmt.Errorf("new capsule: quality score must be finite and non-negative, got %v", quality)
	}
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Capsule{}, fmt.Errorf("new capsule: features[%d] is non-finite", i)
		}
	}
	for k, v := range delta.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Capsule{}, fmt.Errorf("new capsule: delta metric %q is non-finite", k)
		}
	}

	c := Capsule{
		PrevID:       prevID,
		ProducerID:   producerID,
		SequenceTime: sequenceTime,
		Features:     features,
		Quality:      quality,
		Delta:        delta.Clone(),
	}
	id, err := ComputeID(c)
	if err != nil {
		return Capsule{}, err
	}
	c.ID = id
	return c, nil
}

// NewGenesis builds the chain's first capsule for a producer.
func NewGenesis(producerID string, sequenceTime int64, features Features, quality float64) (Capsule, error) {
	return New("", producerID, sequenceTime, features, quality, Delta{})
}
