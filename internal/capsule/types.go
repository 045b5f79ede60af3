package capsule

// FeatureDim is the fixed arity of a capsule's feature vector.
// The wire codec rejects any other arity as malformed.
const FeatureDim = 8

// Features is the opaque numeric summary of one distinction event.
// The engine treats it as data; how it is computed is the producer's
// concern (the extract_features collaborator upstream).
type Features [FeatureDim]float64

// Delta is a small named-counter/metric bundle attached to a capsule.
// Counters are reinforcement counts and merge by max; Metrics are
// continuous values and merge by trust-weighted average. A nil map on
// either side means "nothing to contribute".
type Delta struct {
	Counters map[string]int64   `json:"counters,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// IsZero reports whether the delta carries no counters and no metrics.
func (d Delta) IsZero() bool {
	return len(d.Counters) == 0 && len(d.Metrics) == 0
}

// Clone returns a deep copy. Deltas cross merge boundaries, so callers
// must never alias the maps of a stored capsule.
func (d Delta) Clone() Delta {
	out := Delta{}
	if d.Counters != nil {
		out.Counters = make(map[string]int64, len(d.Counters))
		for k, v := range d.Counters {
			out.Counters[k] = v
		}
	}
	if d.Metrics != nil {
		out.Metrics = make(map[string]float64, len(d.Metrics))
		for k, v := range d.Metrics {
			out.Metrics[k] = v
		}
	}
	return out
}

// Capsule is an immutable record of one distinction event.
//
// ID is a pure function of all other fields (see ComputeID). PrevID is
// empty only for the genesis capsule. SequenceTime is producer-assigned
// and monotonic within that producer's stream; it is a logical stamp,
// not a wall clock the engine trusts.
type Capsule struct {
	ID           string
	PrevID       string
	ProducerID   string
	SequenceTime int64
	Features     Features
	Quality      float64
	Delta        Delta
}

// IsGenesis reports whether the capsule claims the genesis position.
func (c Capsule) IsGenesis() bool {
	return c.PrevID == ""
}
