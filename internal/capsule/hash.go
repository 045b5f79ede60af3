package capsule

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainCapsule is the domain prefix for capsule identity hashing.
// The version suffix enables future algorithm migration without
// colliding with ids minted under the current scheme.
const DomainCapsule = "fluxnode/capsule/v1"

// IDLen is the length of a capsule id in hex characters.
const IDLen = sha256.Size * 2

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeID derives the content-addressed id from every field except ID
// itself. The id is stable across restarts, replays and nodes: any two
// correct implementations hashing the same field values agree.
func ComputeID(c Capsule) (string, error) {
	obj := map[string]any{
		"prev_id":       c.PrevID,
		"producer_id":   c.ProducerID,
		"sequence_time": c.SequenceTime,
		"features":      c.Features[:],
		"quality_score": c.Quality,
	}
	if !c.Delta.IsZero() {
		delta := map[string]any{}
		if len(c.Delta.Counters) > 0 {
			delta["counters"] = c.Delta.Counters
		}
		if len(c.Delta.Metrics) > 0 {
			delta["metrics"] = c.Delta.Metrics
		}
		obj["delta"] = delta
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("capsule id: marshal: %w", err)
	}
	return hashWithDomain(DomainCapsule, canonical), nil
}

// Verify recomputes the id from the capsule's fields and reports whether
// it matches the claimed ID. A mismatch means tampering or corruption;
// such capsules must never be queued.
func Verify(c Capsule) error {
	want, err := ComputeID(c)
	if err != nil {
		return err
	}
	if want != c.ID {
		return fmt.Errorf("capsule id mismatch: claimed %s, computed %s", c.ID, want)
	}
	return nil
}
