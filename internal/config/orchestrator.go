package config

import (
	"fmt"
	"time"
)

// OrchestratorConfig configures the tool registry and invocation path.
type OrchestratorConfig struct {
	// Budget is the starting budget handed to the economy at boot.
	Budget float64 `yaml:"budget"`

	// Reserve is the regeneration target and upper bound for the budget.
	Reserve float64 `yaml:"reserve"`

	// LedgerRetention bounds the in-memory ledger ring (FIFO eviction).
	LedgerRetention int `yaml:"ledger_retention"`

	// LedgerPath is the JSONL file the ledger writer appends to.
	LedgerPath string `yaml:"ledger_path"`

	// QueueDepth bounds the async submission queue; beyond it, envelopes
	// without a priority are rejected as overloaded.
	QueueDepth int `yaml:"queue_depth"`

	// Workers is the number of goroutines draining the async queue.
	Workers int `yaml:"workers"`

	// IdempotencyRetention is how long cached results answer replays.
	IdempotencyRetention string `yaml:"idempotency_retention"`
}

// GetIdempotencyRetention returns the idempotency retention as a duration.
func (o OrchestratorConfig) GetIdempotencyRetention() time.Duration {
	d, err := time.ParseDuration(o.IdempotencyRetention)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Validate checks orchestrator settings.
func (o OrchestratorConfig) Validate() error {
	if o.Reserve <= 0 {
		return fmt.Errorf("orchestrator.reserve must be > 0")
	}
	if o.LedgerRetention < 1 {
		return fmt.Errorf("orchestrator.ledger_retention must be >= 1")
	}
	if o.QueueDepth < 1 {
		return fmt.Errorf("orchestrator.queue_depth must be >= 1")
	}
	if o.Workers < 1 {
		return fmt.Errorf("orchestrator.workers must be >= 1")
	}
	return nil
}
