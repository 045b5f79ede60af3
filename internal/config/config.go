// Package config loads and validates node policy.
//
// Policy arrives as YAML; an embedded CUE schema bounds every constant
// before the engine sees it. All scoring and replay behavior is a pure
// function of these values, so two nodes sharing a config file resolve
// forks and reconstruct state identically.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Trust holds the reputation-scoring constants.
type Trust struct {
	Alpha      float64 `yaml:"alpha" json:"alpha"`
	NormalizeK float64 `yaml:"normalize_k" json:"normalize_k"`
	Floor      float64 `yaml:"floor" json:"floor"`
}

// State holds replay and checkpoint policy.
type State struct {
	Decay           float64 `yaml:"decay" json:"decay"`
	CheckpointEvery int     `yaml:"checkpoint_every" json:"checkpoint_every"`
}

// Chain holds validation policy.
type Chain struct {
	// EpsilonTicks is the timestamp regression tolerance: a capsule may
	// claim a sequence time up to this many ticks before its parent's.
	EpsilonTicks int64 `yaml:"epsilon_ticks" json:"epsilon_ticks"`
}

// Safety holds the plausibility-gate constants.
type Safety struct {
	SigmaK     float64 `yaml:"sigma_k" json:"sigma_k"`
	MinSamples int     `yaml:"min_samples" json:"min_samples"`
}

// Sync holds queue policy.
type Sync struct {
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	DrainBatch int `yaml:"drain_batch" json:"drain_batch"`
}

// Config is the full node policy.
type Config struct {
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	Trust    Trust  `yaml:"trust" json:"trust"`
	State    State  `yaml:"state" json:"state"`
	Chain    Chain  `yaml:"chain" json:"chain"`
	Safety   Safety `yaml:"safety" json:"safety"`
	Sync     Sync   `yaml:"sync" json:"sync"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Default returns the stock policy rooted at dataDir.
func Default(dataDir string) Config {
	return Config{
		DataDir: dataDir,
		Trust: Trust{
			Alpha:      0.2,
			NormalizeK: 4.0,
			Floor:      0.2,
		},
		State: State{
			Decay:           0.9,
			CheckpointEvery: 64,
		},
		Chain: Chain{
			EpsilonTicks: 5,
		},
		Safety: Safety{
			SigmaK:     6.0,
			MinSamples: 10,
		},
		Sync: Sync{
			MaxRetries: 5,
			DrainBatch: 128,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML policy file, fills unset fields from the defaults,
// and validates the result against the schema.
func Load(path, dataDir string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default(dataDir)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the policy against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}

// DatabasePath returns the node database location under DataDir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "node.db")
}

// SlogLevel maps the configured level onto slog.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
