package config

import (
	"fmt"
	"time"
)

// EvolutionConfig configures the mutation policy engine.
type EvolutionConfig struct {
	// MaxFiles bounds how many files one mutation may touch.
	MaxFiles int `yaml:"max_files"`

	// SimTimeout bounds sandbox simulation of a mutation.
	SimTimeout string `yaml:"sim_timeout"`

	// AutoFreeze is the harm count that freezes all evolution.
	AutoFreeze int `yaml:"auto_freeze"`

	// MustSimulate forces sandbox simulation before approval.
	MustSimulate bool `yaml:"must_simulate"`

	// RequiredReviews is carried into the policy report for human workflows.
	RequiredReviews int `yaml:"required_reviews"`

	// PolicyPath points at the hot-reloadable policy YAML.
	PolicyPath string `yaml:"policy_path"`

	// ReportPath persists attempts and freeze state across restarts.
	ReportPath string `yaml:"report_path"`

	// ForbiddenDomains rejects any mutation whose path mentions one.
	ForbiddenDomains []string `yaml:"forbidden_domains"`
}

// GetSimTimeout returns the simulation timeout as a duration.
func (e EvolutionConfig) GetSimTimeout() time.Duration {
	d, err := time.ParseDuration(e.SimTimeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// Validate checks evolution settings.
func (e EvolutionConfig) Validate() error {
	if e.MaxFiles < 1 {
		return fmt.Errorf("evolution.max_files must be >= 1")
	}
	if e.AutoFreeze < 1 {
		return fmt.Errorf("evolution.auto_freeze must be >= 1")
	}
	return nil
}

// MemoryConfig configures the causal memory layer.
type MemoryConfig struct {
	// SnapshotPath receives the full graph as a single JSON document.
	SnapshotPath string `yaml:"snapshot_path"`

	// SnapshotInterval is the background snapshot cadence.
	SnapshotInterval string `yaml:"snapshot_interval"`

	// ArchivePath enables the SQLite archive when non-empty.
	ArchivePath string `yaml:"archive_path"`
}

// GetSnapshotInterval returns the snapshot cadence as a duration.
func (m MemoryConfig) GetSnapshotInterval() time.Duration {
	d, err := time.ParseDuration(m.SnapshotInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
