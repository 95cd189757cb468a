package autonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Vitals is the at-a-glance health view: one JSON document, refreshed on a
// heartbeat and served by the CLI.
type Vitals struct {
	Time        time.Time   `json:"time"`
	Heartbeat   Heartbeat   `json:"heartbeat"`
	Mind        Mind        `json:"mind"`
	Senses      Senses      `json:"senses"`
	Sovereignty Sovereignty `json:"sovereignty"`
	Economy     EconomyView `json:"economy"`
}

// Heartbeat summarizes resource health.
type Heartbeat struct {
	Budget  float64 `json:"budget"`
	Reserve float64 `json:"reserve"`
	Status  string  `json:"status"` // nominal, strained, critical
	Trend   string  `json:"trend"`
}

// Mind summarizes what the loop is working on.
type Mind struct {
	CurrentIntent string `json:"current_intent"`
	StackDepth    int    `json:"stack_depth"`
	Focus         string `json:"focus"`
}

// Senses carries the latest pain reading.
type Senses struct {
	PainScore       float64  `json:"pain_score"`
	PressureSources []string `json:"pressure_sources"`
}

// Sovereignty carries the most recent refusal, if any.
type Sovereignty struct {
	LastRefusal *RefusalInfo `json:"last_refusal"`
}

// EconomyView is the value-for-spend summary.
type EconomyView struct {
	TotalValue float64 `json:"total_value"`
	TotalSpent float64 `json:"total_spent"`
	ROI        float64 `json:"roi"`
}

// Vitals assembles the current snapshot from the last completed cycle.
func (c *Controller) Vitals() Vitals {
	c.mu.Lock()
	sig := c.lastSignal
	current := c.lastIntent
	refusal := c.lastRefusal
	c.mu.Unlock()

	eco := c.eco.Snapshot()

	sources := make([]string, len(sig.PressureSources))
	for i, s := range sig.PressureSources {
		sources[i] = string(s)
	}

	mind := Mind{StackDepth: c.stack.Len(), Focus: "idle"}
	if current != nil {
		mind.CurrentIntent = current.Description
		mind.Focus = fmt.Sprintf("%s (p=%.2f)", current.Kind, current.Priority)
	} else if top := c.stack.Top(); top != nil {
		mind.CurrentIntent = top.Description
		mind.Focus = fmt.Sprintf("%s (p=%.2f)", top.Kind, top.Priority)
	}

	return Vitals{
		Time: c.nowFn(),
		Heartbeat: Heartbeat{
			Budget:  eco.Budget,
			Reserve: eco.Reserve,
			Status:  healthStatus(eco.Budget, sig.PainScore),
			Trend:   sig.Trend.String(),
		},
		Mind: mind,
		Senses: Senses{
			PainScore:       sig.PainScore,
			PressureSources: sources,
		},
		Sovereignty: Sovereignty{LastRefusal: refusal},
		Economy: EconomyView{
			TotalValue: eco.TotalValue,
			TotalSpent: eco.TotalSpent,
			ROI:        eco.ROIRatio,
		},
	}
}

// WriteVitals writes the snapshot atomically so readers never see a torn
// document.
func (c *Controller) WriteVitals(path string) error {
	v := c.Vitals()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vitals: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vitals dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vitals: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace vitals: %w", err)
	}
	return nil
}

// ReadVitals loads a previously written snapshot.
func ReadVitals(path string) (Vitals, error) {
	var v Vitals
	data, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("read vitals: %w", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("parse vitals: %w", err)
	}
	return v, nil
}

// healthStatus grades resource health. Negative budget is critical no
// matter how calm the senses are; pain alone can strain a funded agent.
func healthStatus(budget, pain float64) string {
	switch {
	case budget < 0 || pain > 0.7:
		return "critical"
	case pain > 0.3:
		return "strained"
	default:
		return "nominal"
	}
}
