// Package harness runs declarative capsule-delivery scenarios against a
// fresh in-memory node and records a deterministic trace of every
// integration decision. Scenarios live in YAML; traces are compared
// byte-for-byte against golden files, so any change in acceptance,
// fork resolution, or retry behavior shows up as a golden diff.
package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SealStep seals the next capsule on the builder's tip.
type SealStep struct {
	Producer string  `yaml:"producer"`
	Quality  float64 `yaml:"quality"`
}

// ForkStep seals a capsule attached to an earlier sealed capsule
// instead of the tip. Parent is the 1-based seal ref.
type ForkStep struct {
	Parent   int     `yaml:"parent"`
	Producer string  `yaml:"producer"`
	Quality  float64 `yaml:"quality"`
}

// Step is one scenario action. Exactly one directive must be set.
type Step struct {
	Seal    *SealStep `yaml:"seal,omitempty"`
	Fork    *ForkStep `yaml:"fork,omitempty"`
	Deliver []int     `yaml:"deliver,omitempty"`
	Sync    bool      `yaml:"sync,omitempty"`
	Revoke  string    `yaml:"revoke,omitempty"`
	// Reresolve re-runs conflict resolution at a canonical position.
	Reresolve *int `yaml:"reresolve,omitempty"`
}

// Scenario is a named sequence of steps plus the knobs that change
// integration behavior.
type Scenario struct {
	Name string `yaml:"name"`

	// MaxRetries overrides the sync retry ceiling when > 0.
	MaxRetries int `yaml:"max_retries,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Load reads and validates a scenario file. Unknown YAML fields are
// rejected so a typoed directive cannot silently no-op.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: read scenario: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("harness: parse %s: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("harness: %s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario has no name")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	for i, s := range sc.Steps {
		n := 0
		if s.Seal != nil {
			n++
		}
		if s.Fork != nil {
			n++
		}
		if len(s.Deliver) > 0 {
			n++
		}
		if s.Sync {
			n++
		}
		if s.Revoke != "" {
			n++
		}
		if s.Reresolve != nil {
			n++
		}
		if n != 1 {
			return fmt.Errorf("step %d must have exactly one directive, has %d", i+1, n)
		}
	}
	return nil
}
