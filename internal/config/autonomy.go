package config

import (
	"fmt"
	"time"
)

// AutonomyConfig configures the observe-plan-decide-act-reflect loop.
type AutonomyConfig struct {
	// StatePath holds the intent stack snapshot (one JSON object).
	StatePath string `yaml:"state_path"`

	// ExplainPath is the append-only explainability log (JSONL).
	ExplainPath string `yaml:"explain_path"`

	// VitalsPath receives the periodic vitals snapshot.
	VitalsPath string `yaml:"vitals_path"`

	// CycleInterval is the pause between autonomy cycles.
	CycleInterval string `yaml:"cycle_interval"`

	// ObserveWindow is how many ledger records the observer reads per cycle.
	ObserveWindow int `yaml:"observe_window"`

	// VitalsInterval is the heartbeat cadence for vitals snapshots.
	VitalsInterval string `yaml:"vitals_interval"`
}

// GetCycleInterval returns the cycle interval as a duration.
func (a AutonomyConfig) GetCycleInterval() time.Duration {
	d, err := time.ParseDuration(a.CycleInterval)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetVitalsInterval returns the vitals heartbeat cadence as a duration.
func (a AutonomyConfig) GetVitalsInterval() time.Duration {
	d, err := time.ParseDuration(a.VitalsInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate checks autonomy settings.
func (a AutonomyConfig) Validate() error {
	if a.ExplainPath == "" {
		return fmt.Errorf("autonomy.explain_path must be set")
	}
	if a.ObserveWindow < 1 {
		return fmt.Errorf("autonomy.observe_window must be >= 1")
	}
	return nil
}

// IntentConfig configures the priority stack decay.
type IntentConfig struct {
	// HalfLife controls exponential priority decay.
	HalfLife string `yaml:"half_life"`

	// Floor is the priority below which intents expire.
	Floor float64 `yaml:"floor"`
}

// GetHalfLife returns the decay half-life as a duration.
func (i IntentConfig) GetHalfLife() time.Duration {
	d, err := time.ParseDuration(i.HalfLife)
	if err != nil {
		return time.Hour
	}
	return d
}

// Validate checks intent settings.
func (i IntentConfig) Validate() error {
	if i.Floor <= 0 || i.Floor >= 1 {
		return fmt.Errorf("intent.floor must be in (0, 1)")
	}
	if d := i.GetHalfLife(); d <= 0 {
		return fmt.Errorf("intent.half_life must be > 0")
	}
	return nil
}
