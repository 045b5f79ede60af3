package testutil

import (
	"fmt"

	"github.com/pdk5mjmvfd-cpu/fluxnode/internal/capsule"
)

// ProducerID returns a fixed-form synthetic producer id for tests.
// Deterministic: the same label always yields the same id.
func ProducerID(label string) string {
	const pad = "0000000000000000000000000000000000000000000000000000000000000000"
	id := "device-" + label + "-"
	if len(id) >= len(pad) {
		return id[:len(pad)]
	}
	return id + pad[len(id):]
}

// Features returns a feature vector with mild deterministic variation,
// inside any reasonable safety band.
func Features(i int64) capsule.Features {
	var f capsule.Features
	for j := range f {
		f[j] = 0.5 + 0.01*float64((i+int64(j))%7)
	}
	return f
}

// ChainBuilder seals linked capsules with a deterministic clock, so
// tests and scenarios can construct identical chains on every run.
type ChainBuilder struct {
	clock *DeterministicClock
	tipID string
	built []capsule.Capsule
}

// NewChainBuilder starts an empty chain; the first Extend call seals
// the genesis capsule.
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{clock: NewDeterministicClock()}
}

// Extend seals the next capsule in the chain for the given producer.
func (b *ChainBuilder) Extend(producer string, quality float64, delta capsule.Delta) (capsule.Capsule, error) {
	seq := b.clock.Next()
	c, err := capsule.New(b.tipID, producer, seq, Features(seq), quality, delta)
	if err != nil {
		return capsule.Capsule{}, fmt.Errorf("testutil: extend: %w", err)
	}
	b.tipID = c.ID
	b.built = append(b.built, c)
	return c, nil
}

// Fork seals a capsule attached to an arbitrary parent instead of the
// builder's tip, without moving the tip.
func (b *ChainBuilder) Fork(parentID, producer string, quality float64) (capsule.Capsule, error) {
	seq := b.clock.Next()
	c, err := capsule.New(parentID, producer, seq, Features(seq), quality, capsule.Delta{})
	if err != nil {
		return capsule.Capsule{}, fmt.Errorf("testutil: fork: %w", err)
	}
	b.built = append(b.built, c)
	return c, nil
}

// TipID returns the id of the last capsule sealed by Extend.
func (b *ChainBuilder) TipID() string { return b.tipID }

// Built returns every capsule sealed so far, in seal order.
func (b *ChainBuilder) Built() []capsule.Capsule {
	out := make([]capsule.Capsule, len(b.built))
	copy(out, b.built)
	return out
}
