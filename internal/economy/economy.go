// Package economy is the agent's accounting layer. It tracks budget,
// earnings, and per-tool statistics, and offers throttle advice. It is
// advisory only: no operation is ever blocked for lack of funds.
package economy

import (
	"sync"
	"time"

	"anima/internal/logging"
)

// =============================================================================
// TOOL STATS
// =============================================================================

// ToolStats aggregates per-tool call accounting.
type ToolStats struct {
	Calls      int64   `json:"calls"`
	Failures   int64   `json:"failures"`
	TotalSpent float64 `json:"total_spent"`
	TotalValue float64 `json:"total_value"`
}

// ErrorRate returns failures/calls, zero before the first call.
func (s ToolStats) ErrorRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Calls)
}

// ROI returns total_value/total_spent, zero before the first spend.
func (s ToolStats) ROI() float64 {
	if s.TotalSpent == 0 {
		return 0
	}
	return s.TotalValue / s.TotalSpent
}

// =============================================================================
// EVENTS
// =============================================================================

// Event kinds recorded in the bounded event ring.
const (
	EventSpend = "spend"
	EventEarn  = "earn"
	EventTick  = "tick"
)

// Event is one entry in the economy's bounded history.
type Event struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Tool   string    `json:"tool,omitempty"`
	Amount float64   `json:"amount"`
	Budget float64   `json:"budget"` // budget after the event
}

// =============================================================================
// ECONOMY
// =============================================================================

// Config sets the economy's initial ledgers and persistence.
type Config struct {
	Budget         float64 // starting budget
	Reserve        float64 // regeneration target and budget ceiling
	RegenPerMinute float64 // fraction of reserve regenerated per minute
	MaxEvents      int     // event ring capacity
	Path           string  // snapshot path; empty disables persistence
}

// DefaultConfig returns the standard economy parameters.
func DefaultConfig() Config {
	return Config{
		Budget:         1000,
		Reserve:        5000,
		RegenPerMinute: 0.00167,
		MaxEvents:      500,
	}
}

// Economy holds the mutable accounting state. Safe for concurrent use; the
// hot path never touches disk (see persistence.go).
type Economy struct {
	mu            sync.Mutex
	budget        float64
	reserve       float64
	totalSpent    float64
	totalValue    float64
	totalEarnings float64
	toolStats     map[string]*ToolStats
	events        []Event
	maxEvents     int
	regenPerMin   float64

	// clock is advanced only by Tick; every other operation stamps
	// events with the last known tick time so that Tick stays the sole
	// wall-clock reader.
	clock       time.Time
	firstTick   time.Time
	lastEarning time.Time

	flusher *flusher
	closed  bool
}

// New creates an economy from config. The construction time seeds the clock.
func New(cfg Config) *Economy {
	if cfg.Reserve <= 0 {
		cfg.Reserve = 5000
	}
	if cfg.RegenPerMinute <= 0 {
		cfg.RegenPerMinute = 0.00167
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 500
	}
	now := time.Now()
	e := &Economy{
		budget:      cfg.Budget,
		reserve:     cfg.Reserve,
		regenPerMin: cfg.RegenPerMinute,
		maxEvents:   cfg.MaxEvents,
		toolStats:   make(map[string]*ToolStats),
		clock:       now,
		firstTick:   now,
	}
	if cfg.Path != "" {
		e.flusher = newFlusher(cfg.Path)
	}
	return e
}

// Tick regenerates budget for the wall-clock time elapsed since the last
// tick and returns the amount regenerated. The reserve is a hard ceiling:
// any surplus above it is clipped here.
func (e *Economy) Tick() float64 {
	return e.tick(time.Now())
}

func (e *Economy) tick(now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := now.Sub(e.clock).Minutes()
	e.clock = now
	if elapsed <= 0 {
		return 0
	}

	regen := e.reserve * e.regenPerMin * elapsed
	e.budget += regen
	if e.budget > e.reserve {
		e.budget = e.reserve
	}
	e.addEventLocked(EventTick, "", regen)
	e.scheduleSaveLocked()

	logging.EconomyDebug("tick: +%.3f over %.2f min (budget %.2f)", regen, elapsed, e.budget)
	return regen
}

// Spend debits the budget. It always succeeds; the budget may go negative.
func (e *Economy) Spend(cost float64, tool string, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.budget -= cost
	e.totalSpent += cost
	if tool != "" {
		stats := e.statsLocked(tool)
		stats.Calls++
		stats.TotalSpent += cost
		if failed {
			stats.Failures++
		}
	}
	e.addEventLocked(EventSpend, tool, -cost)
	e.scheduleSaveLocked()
}

// RecordValue credits value·confidence. The budget and earnings only grow
// for a positive credit; total_value moves either way.
func (e *Economy) RecordValue(value, confidence float64, source, tool string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	credit := value * confidence
	e.totalValue += credit
	if tool != "" {
		e.statsLocked(tool).TotalValue += credit
	}
	if credit > 0 {
		e.budget += credit
		e.totalEarnings += credit
		e.lastEarning = e.clock
		e.addEventLocked(EventEarn, tool, credit)
		logging.EconomyDebug("earn: +%.3f from %s (budget %.2f)", credit, source, e.budget)
	}
	e.scheduleSaveLocked()
	return credit
}

// CheckBudget exists for symmetry with the orchestrator's pipeline and
// always returns true: the economy advises, it never refuses.
func (e *Economy) CheckBudget(priority float64) bool {
	return true
}

// Reset restores the budget and wipes all accumulated accounting: totals,
// per-tool stats, and the event history. Privileged operator surface only.
func (e *Economy) Reset(budget float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.budget = budget
	e.totalSpent = 0
	e.totalValue = 0
	e.totalEarnings = 0
	e.toolStats = make(map[string]*ToolStats)
	e.events = nil
	e.clock = now
	e.firstTick = now
	e.lastEarning = time.Time{}
	e.scheduleSaveLocked()

	logging.Economy("economy reset: budget restored to %.2f", budget)
}

// ShouldThrottle reports whether a tool's record is catastrophic, with the
// reason. Catastrophic means calls>50 with error rate>0.9, or spend>100
// with ROI<0.01. The caller annotates; nothing here blocks execution.
func (e *Economy) ShouldThrottle(tool string) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, ok := e.toolStats[tool]
	if !ok {
		return false, ""
	}
	if stats.Calls > 50 && stats.ErrorRate() > 0.9 {
		return true, "error rate above 0.9 over a significant call history"
	}
	if stats.TotalSpent > 100 && stats.ROI() < 0.01 {
		return true, "return on investment below 0.01 despite significant spend"
	}
	return false, ""
}

// Stats returns a copy of one tool's stats.
func (e *Economy) Stats(tool string) (ToolStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, ok := e.toolStats[tool]
	if !ok {
		return ToolStats{}, false
	}
	return *stats, true
}

// ExpectedROI returns a tool's historical ROI, 1.0 for unknown tools so
// that new tools are neither favored nor punished.
func (e *Economy) ExpectedROI(tool string) float64 {
	stats, ok := e.Stats(tool)
	if !ok || stats.TotalSpent == 0 {
		return 1.0
	}
	return stats.ROI()
}

// Budget returns the current budget.
func (e *Economy) Budget() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.budget
}

// Snapshot returns the full state plus derived indicators.
func (e *Economy) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Economy) snapshotLocked() Snapshot {
	snap := Snapshot{
		Budget:        e.budget,
		Reserve:       e.reserve,
		TotalSpent:    e.totalSpent,
		TotalValue:    e.totalValue,
		TotalEarnings: e.totalEarnings,
		LastTick:      e.clock,
		LastEarning:   e.lastEarning,
		ToolStats:     make(map[string]ToolStats, len(e.toolStats)),
		Events:        make([]Event, len(e.events)),
		NetPosition:   e.totalValue - e.totalSpent,
	}
	for name, stats := range e.toolStats {
		snap.ToolStats[name] = *stats
	}
	copy(snap.Events, e.events)
	if e.totalSpent > 0 {
		snap.ROIRatio = e.totalValue / e.totalSpent
	}
	if hours := e.clock.Sub(e.firstTick).Hours(); hours > 0 {
		snap.EarningRate = e.totalEarnings / hours
	}
	return snap
}

// statsLocked returns the tool's stats entry, creating it on first use.
// Callers hold e.mu.
func (e *Economy) statsLocked(tool string) *ToolStats {
	stats, ok := e.toolStats[tool]
	if !ok {
		stats = &ToolStats{}
		e.toolStats[tool] = stats
	}
	return stats
}

// addEventLocked appends to the bounded event ring. Callers hold e.mu.
func (e *Economy) addEventLocked(kind, tool string, amount float64) {
	e.events = append(e.events, Event{
		At:     e.clock,
		Kind:   kind,
		Tool:   tool,
		Amount: amount,
		Budget: e.budget,
	})
	if len(e.events) > e.maxEvents {
		e.events = e.events[len(e.events)-e.maxEvents:]
	}
}
