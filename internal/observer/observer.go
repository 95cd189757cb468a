// Package observer distills the action ledger into a single pain signal
// the planner can act on.
package observer

import (
	"encoding/json"
	"fmt"
	"sync"

	"anima/internal/logging"
	"anima/internal/tools"
)

// DefaultWindow is how many ledger records one evaluation considers.
const DefaultWindow = 100

// Scoring thresholds. Each rule that fires adds its weight to the pain
// score; the sum is clamped to 1.0.
const (
	errorRateMinor = 0.1
	errorRateMajor = 0.3
	latencyLimitMS = 2000.0
	costLimit      = 5.0

	painErrorMinor = 0.4
	painErrorMajor = 0.3
	painLatency    = 0.2
	painCost       = 0.2
	painInjected   = 0.2
)

// trendFactor is how much worse the recent window must be before the trend
// flips away from stable.
const trendFactor = 1.5

// ===== Pressure sources =====

// PressureSource names one cause of operational pain.
type PressureSource string

const (
	PressureCost    PressureSource = "COST"
	PressureErrors  PressureSource = "ERRORS"
	PressureLatency PressureSource = "LATENCY"
	PressureMemory  PressureSource = "MEMORY_PRESSURE"
)

// pressureOrder fixes the reporting order of pressure sources.
var pressureOrder = []PressureSource{PressureCost, PressureErrors, PressureLatency, PressureMemory}

// ===== Trend =====

// Trend compares the most recent records against the older remainder of
// the window.
type Trend int

const (
	TrendStable Trend = iota
	TrendImproving
	TrendDegrading
)

func (t Trend) String() string {
	switch t {
	case TrendStable:
		return "STABLE"
	case TrendImproving:
		return "IMPROVING"
	case TrendDegrading:
		return "DEGRADING"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// MarshalJSON encodes the trend by name.
func (t Trend) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a trend from its name.
func (t *Trend) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "STABLE":
		*t = TrendStable
	case "IMPROVING":
		*t = TrendImproving
	case "DEGRADING":
		*t = TrendDegrading
	default:
		return fmt.Errorf("unknown trend %q", s)
	}
	return nil
}

// ===== Signal summary =====

// RawMetrics carries the numbers behind a summary, for explainability.
type RawMetrics struct {
	WindowSize      int     `json:"window_size"`
	Failures        int     `json:"failures"`
	ErrorRate       float64 `json:"error_rate"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
	TotalCost       float64 `json:"total_cost"`
	RecentErrorRate float64 `json:"recent_error_rate"`
	OlderErrorRate  float64 `json:"older_error_rate"`
}

// SignalSummary is one reading of the system's operational state.
type SignalSummary struct {
	PainScore       float64          `json:"pain_score"`
	PressureSources []PressureSource `json:"pressure_sources"`
	Trend           Trend            `json:"trend"`
	Confidence      float64          `json:"confidence"`
	Raw             RawMetrics       `json:"raw_metrics"`
}

// HasPressure reports whether the summary carries the given source.
func (s SignalSummary) HasPressure(src PressureSource) bool {
	for _, p := range s.PressureSources {
		if p == src {
			return true
		}
	}
	return false
}

// ===== Observer =====

// Observer reads the in-memory ledger ring and produces signal summaries.
// Other subsystems may inject pressure signals (e.g. an invariant breach in
// release builds); each injected signal is consumed by the next evaluation.
type Observer struct {
	ledger *tools.Ledger
	window int

	mu       sync.Mutex
	injected map[PressureSource]bool
}

// New creates an observer over the given ledger. A non-positive window
// selects the default of 100 records.
func New(ledger *tools.Ledger, window int) *Observer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Observer{
		ledger:   ledger,
		window:   window,
		injected: make(map[PressureSource]bool),
	}
}

// ReportPressure queues an external pressure signal for the next read.
func (o *Observer) ReportPressure(src PressureSource) {
	o.mu.Lock()
	o.injected[src] = true
	o.mu.Unlock()
	logging.ObserverDebug("external pressure signal: %s", src)
}

// Evaluate reads the last window records and scores them.
func (o *Observer) Evaluate() SignalSummary {
	return o.summarize(o.ledger.Recent(o.window))
}

func (o *Observer) summarize(records []tools.Record) SignalSummary {
	o.mu.Lock()
	injected := o.injected
	o.injected = make(map[PressureSource]bool)
	o.mu.Unlock()

	raw := RawMetrics{WindowSize: len(records)}
	var totalLatency float64
	for _, rec := range records {
		if rec.Failed() {
			raw.Failures++
		}
		totalLatency += float64(rec.DurationMS)
		raw.TotalCost += rec.CostSpent
	}
	if len(records) > 0 {
		raw.ErrorRate = float64(raw.Failures) / float64(len(records))
		raw.AvgLatencyMS = totalLatency / float64(len(records))
	}

	pain := 0.0
	pressures := make(map[PressureSource]bool)

	if raw.ErrorRate > errorRateMinor {
		pain += painErrorMinor
		pressures[PressureErrors] = true
	}
	if raw.ErrorRate > errorRateMajor {
		pain += painErrorMajor
	}
	if raw.AvgLatencyMS > latencyLimitMS {
		pain += painLatency
		pressures[PressureLatency] = true
	}
	if raw.TotalCost > costLimit {
		pain += painCost
		pressures[PressureCost] = true
	}
	for src := range injected {
		if !pressures[src] {
			pain += painInjected
			pressures[src] = true
		}
	}
	if pain > 1.0 {
		pain = 1.0
	}

	trend := TrendStable
	recentN := 10
	if recentN > len(records) {
		recentN = len(records)
	}
	older := records[:len(records)-recentN]
	recent := records[len(records)-recentN:]
	raw.RecentErrorRate = errorRate(recent)
	raw.OlderErrorRate = errorRate(older)
	if len(older) > 0 || len(recent) > 0 {
		switch {
		case raw.RecentErrorRate > trendFactor*raw.OlderErrorRate && raw.RecentErrorRate > errorRateMinor:
			trend = TrendDegrading
		case raw.OlderErrorRate > trendFactor*raw.RecentErrorRate && raw.OlderErrorRate > errorRateMinor:
			trend = TrendImproving
		}
	}

	confidence := 0.5
	if len(records) >= 20 {
		confidence = 0.9
	}

	summary := SignalSummary{
		PainScore:       pain,
		PressureSources: orderedPressures(pressures),
		Trend:           trend,
		Confidence:      confidence,
		Raw:             raw,
	}
	logging.ObserverDebug("signal summary: pain=%.2f pressures=%v trend=%s n=%d",
		pain, summary.PressureSources, trend, len(records))
	return summary
}

func errorRate(records []tools.Record) float64 {
	if len(records) == 0 {
		return 0
	}
	failed := 0
	for _, rec := range records {
		if rec.Failed() {
			failed++
		}
	}
	return float64(failed) / float64(len(records))
}

func orderedPressures(set map[PressureSource]bool) []PressureSource {
	out := make([]PressureSource, 0, len(set))
	for _, src := range pressureOrder {
		if set[src] {
			out = append(out, src)
		}
	}
	return out
}
