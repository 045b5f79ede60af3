package capsule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// wireCapsule is the transport representation. Any serialization must
// preserve these fields exactly and keep the id independently
// recomputable from the rest (tamper detection happens on receipt, not
// in the codec).
type wireCapsule struct {
	ID           string    `json:"id"`
	PrevID       string    `json:"prev_id,omitempty"`
	ProducerID   string    `json:"producer_id"`
	SequenceTime int64     `json:"sequence_time"`
	Features     []float64 `json:"features"`
	Quality      float64   `json:"quality_score"`
	Delta        *Delta    `json:"delta,omitempty"`
}

// Encode serializes a capsule for the delivery channel.
// Wire JSON is not the canonical form; only MarshalCanonical feeds the
// hash. Receivers must re-verify the id regardless of transport.
func Encode(c Capsule) ([]byte, error) {
	w := wireCapsule{
		ID:           c.ID,
		PrevID:       c.PrevID,
		ProducerID:   c.ProducerID,
		SequenceTime: c.SequenceTime,
		Features:     c.Features[:],
		Quality:      c.Quality,
	}
	if !c.Delta.IsZero() {
		d := c.Delta.Clone()
		w.Delta = &d
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("encode capsule: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a wire capsule and checks structural validity: required
// fields present, feature arity exact, numbers finite. It does NOT
// verify the id hash; that is the chain validator's decision so that a
// hash mismatch is classified (and logged) as Malformed, not as a codec
// failure.
func Decode(data []byte) (Capsule, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireCapsule
	if err := dec.Decode(&w); err != nil {
		return Capsule{}, fmt.Errorf("decode capsule: %w", err)
	}
	if len(w.ID) != IDLen {
		return Capsule{}, fmt.Errorf("decode capsule: id must be %d hex chars, got %d", IDLen, len(w.ID))
	}
	if w.PrevID != "" && len(w.PrevID) != IDLen {
		return Capsule{}, fmt.Errorf("decode capsule: prev_id must be %d hex chars, got %d", IDLen, len(w.PrevID))
	}
	if w.ProducerID == "" {
		return Capsule{}, fmt.Errorf("decode capsule: producer_id is required")
	}
	if len(w.Features) != FeatureDim {
		return Capsule{}, fmt.Errorf("decode capsule: features must have arity %d, got %d", FeatureDim, len(w.Features))
	}
	if w.Quality < 0 || math.IsNaN(w.Quality) || math.IsInf(w.Quality, 0) {
		return Capsule{}, fmt.Errorf("decode capsule: quality_score must be finite and non-negative")
	}
	for i, f := range w.Features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Capsule{}, fmt.Errorf("decode capsule: features[%d] is non-finite", i)
		}
	}

	c := Capsule{
		ID:           w.ID,
		PrevID:       w.PrevID,
		ProducerID:   w.ProducerID,
		SequenceTime: w.SequenceTime,
		Quality:      w.Quality,
	}
	copy(c.Features[:], w.Features)
	if w.Delta != nil {
		for k, v := range w.Delta.Metrics {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Capsule{}, fmt.Errorf("decode capsule: delta metric %q is non-finite", k)
			}
		}
		c.Delta = w.Delta.Clone()
	}
	return c, nil
}
