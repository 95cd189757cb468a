package economy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anima/internal/logging"
)

// Snapshot is the persisted state plus derived indicators. The derived
// fields are recomputed on load, never trusted from disk.
type Snapshot struct {
	Version       string               `json:"version"`
	Budget        float64              `json:"budget"`
	Reserve       float64              `json:"reserve"`
	TotalSpent    float64              `json:"total_spent"`
	TotalValue    float64              `json:"total_value"`
	TotalEarnings float64              `json:"total_earnings"`
	ToolStats     map[string]ToolStats `json:"tool_stats"`
	Events        []Event              `json:"events"`
	LastTick      time.Time            `json:"last_tick"`
	LastEarning   time.Time            `json:"last_earning,omitempty"`

	NetPosition float64 `json:"net_position"`
	ROIRatio    float64 `json:"roi_ratio"`
	EarningRate float64 `json:"earning_rate"`
}

const snapshotVersion = "1"

// =============================================================================
// SNAPSHOT FLUSHER
// =============================================================================
//
// Mutations hand an in-memory snapshot to a single writer goroutine. The
// channel holds at most one pending snapshot; a newer one supersedes an
// unwritten older one. The hot path never waits on disk.

type flusher struct {
	path string
	ch   chan Snapshot
	done chan struct{}
}

func newFlusher(path string) *flusher {
	f := &flusher{
		path: path,
		ch:   make(chan Snapshot, 1),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

// offer queues a snapshot, displacing any unwritten predecessor.
func (f *flusher) offer(snap Snapshot) {
	for {
		select {
		case f.ch <- snap:
			return
		default:
			select {
			case <-f.ch:
			default:
			}
		}
	}
}

func (f *flusher) run() {
	defer close(f.done)
	for snap := range f.ch {
		if err := writeSnapshot(f.path, snap); err != nil {
			logging.EconomyWarn("snapshot write failed: %v", err)
		}
	}
}

// stop drains and shuts down the writer, blocking until the last queued
// snapshot is on disk.
func (f *flusher) stop() {
	close(f.ch)
	<-f.done
}

func writeSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal economy state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write economy snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// scheduleSaveLocked hands the current state to the flusher. Callers hold
// e.mu. Marshal and disk IO happen on the writer goroutine.
func (e *Economy) scheduleSaveLocked() {
	if e.flusher == nil || e.closed {
		return
	}
	snap := e.snapshotLocked()
	snap.Version = snapshotVersion
	e.flusher.offer(snap)
}

// Load restores state from the snapshot file. A missing file is not an
// error; the economy starts from its configured state.
func (e *Economy) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read economy snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse economy snapshot: %w", err)
	}

	e.mu.Lock()
	e.budget = snap.Budget
	if snap.Reserve > 0 {
		e.reserve = snap.Reserve
	}
	e.totalSpent = snap.TotalSpent
	e.totalValue = snap.TotalValue
	e.totalEarnings = snap.TotalEarnings
	e.toolStats = make(map[string]*ToolStats, len(snap.ToolStats))
	for name, stats := range snap.ToolStats {
		s := stats
		e.toolStats[name] = &s
	}
	e.events = snap.Events
	if len(e.events) > e.maxEvents {
		e.events = e.events[len(e.events)-e.maxEvents:]
	}
	if !snap.LastTick.IsZero() {
		e.clock = snap.LastTick
		e.firstTick = snap.LastTick
	}
	e.lastEarning = snap.LastEarning
	e.mu.Unlock()

	logging.Economy("restored state from %s (budget %.2f, %d tool(s))",
		path, snap.Budget, len(snap.ToolStats))
	return nil
}

// Close performs a final synchronous save and stops the writer.
func (e *Economy) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	flusher := e.flusher
	snap := e.snapshotLocked()
	snap.Version = snapshotVersion
	e.mu.Unlock()

	if flusher == nil {
		return nil
	}
	flusher.offer(snap)
	flusher.stop()
	return nil
}
