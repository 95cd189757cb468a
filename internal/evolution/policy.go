package evolution

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy bounds what a mutation may touch and how it must be verified.
type Policy struct {
	// MaxFiles caps how many files one mutation may modify.
	MaxFiles int `yaml:"max_files"`
	// ForbiddenDomains lists path tokens no mutation may touch.
	ForbiddenDomains []string `yaml:"forbidden_domains"`
	// MustSimulate requires a sandbox run before approval.
	MustSimulate bool `yaml:"must_simulate"`
	// RequiredReviews is how many external approvals a deploy needs.
	RequiredReviews int `yaml:"required_reviews"`
	// AutoFreezeThreshold is the harm count that freezes the engine.
	AutoFreezeThreshold int `yaml:"auto_freeze_threshold"`
	// SimulationTimeout bounds one sandbox run.
	SimulationTimeout time.Duration `yaml:"simulation_timeout"`
}

// DefaultPolicy returns the conservative baseline.
func DefaultPolicy() Policy {
	return Policy{
		MaxFiles:            5,
		ForbiddenDomains:    []string{"identity", "economy", "canon"},
		MustSimulate:        true,
		RequiredReviews:     0,
		AutoFreezeThreshold: 3,
		SimulationTimeout:   5 * time.Minute,
	}
}

// normalize backfills zero values from the defaults.
func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.MaxFiles <= 0 {
		p.MaxFiles = def.MaxFiles
	}
	if len(p.ForbiddenDomains) == 0 {
		p.ForbiddenDomains = def.ForbiddenDomains
	}
	if p.AutoFreezeThreshold <= 0 {
		p.AutoFreezeThreshold = def.AutoFreezeThreshold
	}
	if p.SimulationTimeout <= 0 {
		p.SimulationTimeout = def.SimulationTimeout
	}
	return p
}

// LoadPolicy reads a policy file, backfilling unset fields from the
// defaults. A missing file yields the default policy.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	return p.normalize(), nil
}

// SavePolicy writes the policy as YAML.
func SavePolicy(path string, p Policy) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	return nil
}
