// Package config loads the Runtime parameters every mabmrun process needs
// from the environment: its place in the collective, the PRNG seed, the
// sync mode, and which transport backend to dial.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/mabmrun/mabm/pkg/mabmerr"
)

// Runtime holds one process's configuration for a simulation run.
type Runtime struct {
	Rank          int    `envconfig:"RANK" required:"true"`
	WorldSize     int    `envconfig:"WORLD_SIZE" required:"true"`
	Seed          int64  `envconfig:"SEED" default:"1"`
	Mode          string `envconfig:"MODE" default:"watch"`
	Transport     string `envconfig:"TRANSPORT" default:"chan"`
	SQLitePath    string `envconfig:"SQLITE_PATH"`
	KafkaBrokers  string `envconfig:"KAFKA_BROKERS"`
	RunID         string `envconfig:"RUN_ID"`
}

// Load populates a Runtime from MABM_* environment variables and validates
// it. An empty RunID is left for the caller to fill in (cmd/mabmrun mints
// one with uuid when unset).
func Load() (*Runtime, error) {
	var cfg Runtime
	if err := envconfig.Process("MABM", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w: %w", err, mabmerr.ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants Load's environment parsing cannot express
// through struct tags alone.
func (r *Runtime) Validate() error {
	if r.WorldSize <= 0 {
		return fmt.Errorf("config: world size %d must be positive: %w", r.WorldSize, mabmerr.ErrConfig)
	}
	if r.Rank < 0 || r.Rank >= r.WorldSize {
		return fmt.Errorf("config: rank %d out of range [0,%d): %w", r.Rank, r.WorldSize, mabmerr.ErrConfig)
	}
	switch r.Mode {
	case "request", "watch":
	default:
		return fmt.Errorf("config: mode %q must be \"request\" or \"watch\": %w", r.Mode, mabmerr.ErrConfig)
	}
	switch r.Transport {
	case "chan", "sqlite", "kafka":
	default:
		return fmt.Errorf("config: transport %q must be \"chan\", \"sqlite\", or \"kafka\": %w", r.Transport, mabmerr.ErrConfig)
	}
	if r.Transport == "sqlite" && r.SQLitePath == "" {
		return fmt.Errorf("config: transport sqlite requires MABM_SQLITE_PATH: %w", mabmerr.ErrConfig)
	}
	if r.Transport == "kafka" && r.KafkaBrokers == "" {
		return fmt.Errorf("config: transport kafka requires MABM_KAFKA_BROKERS: %w", mabmerr.ErrConfig)
	}
	return nil
}
