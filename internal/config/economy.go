package config

import "fmt"

// EconomyConfig configures budget accounting and persistence.
type EconomyConfig struct {
	// MaxEvents bounds the in-memory event ring buffer.
	MaxEvents int `yaml:"max_events"`

	// Path is the JSON state file written by the background flusher.
	Path string `yaml:"path"`

	// RegenPercentMin is the fraction of reserve regenerated per minute
	// by Tick (0.00167 = 0.167%/min).
	RegenPercentMin float64 `yaml:"regen_percent_min"`
}

// Validate checks economy settings.
func (e EconomyConfig) Validate() error {
	if e.MaxEvents < 1 {
		return fmt.Errorf("economy.max_events must be >= 1")
	}
	if e.Path == "" {
		return fmt.Errorf("economy.path must be set")
	}
	if e.RegenPercentMin < 0 {
		return fmt.Errorf("economy.regen_percent_min must be >= 0")
	}
	return nil
}
