package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// encodeFeatures packs a feature vector as little-endian float64 bits.
// Fixed width keeps the blob independently decodable without a header.
func encodeFeatures(f capsule.Features) []byte {
	buf := make([]byte, capsule.FeatureDim*8)
	for i, v := range f {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeFeatures(b []byte) (capsule.Features, error) {
	var f capsule.Features
	if len(b) != capsule.FeatureDim*8 {
		return f, fmt.Errorf("features blob: want %d bytes, got %d", capsule.FeatureDim*8, len(b))
	}
	for i := range f {
		f[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return f, nil
}

// marshalDelta serializes a delta for the ledger. Plain JSON is enough
// here: the canonical form matters only for hashing, and the hash was
// sealed before the capsule reached the store.
func marshalDelta(d capsule.Delta) (string, error) {
	if d.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal delta: %w", err)
	}
	return string(data), nil
}

func unmarshalDelta(s string) (capsule.Delta, error) {
	if s == "" {
		return capsule.Delta{}, nil
	}
	var d capsule.Delta
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return capsule.Delta{}, fmt.Errorf("unmarshal delta: %w", err)
	}
	return d, nil
}
