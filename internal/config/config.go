package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all anima configuration. It is constructed once at boot via
// Load and threaded into the core; no package reads the environment after
// that point.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// DataDir roots all persisted state (economy, intents, ledger, logs).
	DataDir string `yaml:"data_dir"`

	// Orchestrator configures the tool registry and invocation path.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Economy configures budget accounting.
	Economy EconomyConfig `yaml:"economy"`

	// Autonomy configures the observe-plan-decide-act loop.
	Autonomy AutonomyConfig `yaml:"autonomy"`

	// Intent configures the priority stack.
	Intent IntentConfig `yaml:"intent"`

	// Evolution configures the mutation policy engine.
	Evolution EvolutionConfig `yaml:"evolution"`

	// Memory configures the causal memory layer.
	Memory MemoryConfig `yaml:"memory"`

	// Trust configures source trust persistence.
	Trust TrustConfig `yaml:"trust"`

	// Logging configures the category file logger.
	Logging LoggingConfig `yaml:"logging"`
}

// TrustConfig configures source trust persistence.
type TrustConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "anima",
		Version: "0.4.0",
		DataDir: "data",

		Orchestrator: OrchestratorConfig{
			Budget:               1000,
			Reserve:              5000,
			LedgerRetention:      5000,
			LedgerPath:           "data/ledger.jsonl",
			QueueDepth:           64,
			Workers:              4,
			IdempotencyRetention: "24h",
		},

		Economy: EconomyConfig{
			MaxEvents:       500,
			Path:            "data/economy.json",
			RegenPercentMin: 0.00167,
		},

		Autonomy: AutonomyConfig{
			StatePath:      "data/intents.json",
			ExplainPath:    "data/explain.jsonl",
			VitalsPath:     "data/vitals.json",
			CycleInterval:  "60s",
			ObserveWindow:  100,
			VitalsInterval: "30s",
		},

		Intent: IntentConfig{
			HalfLife: "1h",
			Floor:    0.05,
		},

		Evolution: EvolutionConfig{
			MaxFiles:         5,
			SimTimeout:       "300s",
			AutoFreeze:       3,
			MustSimulate:     true,
			PolicyPath:       "data/evolution_policy.yaml",
			ReportPath:       "data/evolution_report.json",
			ForbiddenDomains: []string{"identity", "economy", "canon"},
		},

		Memory: MemoryConfig{
			SnapshotPath:     "data/memory.json",
			SnapshotInterval: "5m",
			ArchivePath:      "",
		},

		Trust: TrustConfig{
			Path: "data/trust.json",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides. This is the
// single point where the environment is read.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. A variable that
// is set but unparseable is a configuration error, not a silent fallback.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("ORCHESTRATOR_BUDGET"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ORCHESTRATOR_BUDGET: %w", err)
		}
		c.Orchestrator.Budget = f
	}
	if v := os.Getenv("ORCHESTRATOR_RESERVE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ORCHESTRATOR_RESERVE: %w", err)
		}
		c.Orchestrator.Reserve = f
	}
	if v := os.Getenv("ORCHESTRATOR_LEDGER_RETENTION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORCHESTRATOR_LEDGER_RETENTION: %w", err)
		}
		c.Orchestrator.LedgerRetention = n
	}
	if v := os.Getenv("ECONOMY_MAX_EVENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ECONOMY_MAX_EVENTS: %w", err)
		}
		c.Economy.MaxEvents = n
	}
	if v := os.Getenv("ECONOMY_PATH"); v != "" {
		c.Economy.Path = v
	}
	if v := os.Getenv("AUTONOMY_STATE_PATH"); v != "" {
		c.Autonomy.StatePath = v
	}
	if v := os.Getenv("AUTONOMY_EXPLAIN_PATH"); v != "" {
		c.Autonomy.ExplainPath = v
	}
	if v := os.Getenv("AUTONOMY_CYCLE_INTERVAL_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTONOMY_CYCLE_INTERVAL_SEC: %w", err)
		}
		c.Autonomy.CycleInterval = fmt.Sprintf("%ds", n)
	}
	if v := os.Getenv("INTENT_HALF_LIFE_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INTENT_HALF_LIFE_SEC: %w", err)
		}
		c.Intent.HalfLife = fmt.Sprintf("%ds", n)
	}
	if v := os.Getenv("INTENT_FLOOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INTENT_FLOOR: %w", err)
		}
		c.Intent.Floor = f
	}
	if v := os.Getenv("EPE_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EPE_MAX_FILES: %w", err)
		}
		c.Evolution.MaxFiles = n
	}
	if v := os.Getenv("EPE_SIM_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EPE_SIM_TIMEOUT_SEC: %w", err)
		}
		c.Evolution.SimTimeout = fmt.Sprintf("%ds", n)
	}
	if v := os.Getenv("EPE_AUTO_FREEZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EPE_AUTO_FREEZE: %w", err)
		}
		c.Evolution.AutoFreeze = n
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.Economy.Validate(); err != nil {
		return err
	}
	if err := c.Autonomy.Validate(); err != nil {
		return err
	}
	if err := c.Intent.Validate(); err != nil {
		return err
	}
	if err := c.Evolution.Validate(); err != nil {
		return err
	}
	return nil
}
