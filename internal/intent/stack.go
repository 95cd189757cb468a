package intent

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"anima/internal/logging"
)

// =============================================================================
// INTENT STACK
// =============================================================================
//
// The stack is a priority queue with exponential time decay. It is owned by
// the autonomy loop; the mutex exists only so external injection (CLI, other
// subsystems) can run while a cycle is in flight.

// StackConfig configures decay and persistence.
type StackConfig struct {
	HalfLife  time.Duration // priority halves per HalfLife of age
	Floor     float64       // intents decaying under this are dropped
	StatePath string        // JSON snapshot path; empty disables persistence
}

// DefaultStackConfig returns the standard decay parameters.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		HalfLife: time.Hour,
		Floor:    0.05,
	}
}

// Stack holds proposed intents ordered by priority.
type Stack struct {
	mu     sync.Mutex
	items  []*Intent
	config StackConfig

	dirty     bool
	saveTimer *time.Timer
}

// NewStack creates an empty stack.
func NewStack(cfg StackConfig) *Stack {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = time.Hour
	}
	if cfg.Floor <= 0 {
		cfg.Floor = 0.05
	}
	return &Stack{config: cfg}
}

// Add inserts an intent. Duplicate (kind, description) pairs are collapsed:
// the incumbent survives, its priority raised to the max of the two.
// Returns false when the intent was merged into an existing one.
func (s *Stack) Add(in *Intent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	in.Priority = clamp01(in.Priority)
	for _, existing := range s.items {
		if existing.Kind == in.Kind && existing.Description == in.Description {
			if in.Priority > existing.Priority {
				existing.Priority = in.Priority
			}
			s.markDirty()
			return false
		}
	}

	s.items = append(s.items, in)
	logging.AutonomyDebug("stack: added %s %s (priority %.2f, source %s)",
		in.Kind, in.ID, in.Priority, in.Source)
	s.markDirty()
	return true
}

// Decay applies exponential decay to every intent and drops the ones that
// fall below the floor. Dropped intents are returned with status expired.
func (s *Stack) Decay(now time.Time) []*Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Intent
	kept := s.items[:0]
	for _, in := range s.items {
		dt := now.Sub(in.LastDecayAt).Seconds()
		if dt > 0 {
			factor := math.Exp(-math.Ln2 * dt / s.config.HalfLife.Seconds())
			in.Priority *= factor
			in.LastDecayAt = now
		}
		if in.Priority < s.config.Floor {
			in.Status = StatusExpired
			expired = append(expired, in)
			continue
		}
		kept = append(kept, in)
	}
	s.items = kept

	if len(expired) > 0 {
		logging.AutonomyDebug("stack: %d intent(s) expired below floor %.2f", len(expired), s.config.Floor)
		s.markDirty()
	}
	return expired
}

// Top returns the highest-priority intent, ties broken by freshness.
// Returns nil when the stack is empty.
func (s *Stack) Top() *Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var top *Intent
	for _, in := range s.items {
		if top == nil || in.Priority > top.Priority ||
			(in.Priority == top.Priority && in.CreatedAt.After(top.CreatedAt)) {
			top = in
		}
	}
	return top
}

// Remove deletes an intent by id.
func (s *Stack) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, in := range s.items {
		if in.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.markDirty()
			return true
		}
	}
	return false
}

// HasKind reports whether any intent of the given kind is queued.
func (s *Stack) HasKind(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range s.items {
		if in.Kind == kind {
			return true
		}
	}
	return false
}

// Len returns the number of queued intents.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns a snapshot of the queued intents sorted by priority.
func (s *Stack) Items() []*Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Intent, len(s.items))
	copy(out, s.items)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// stackState is the one-JSON-object-per-file snapshot form.
type stackState struct {
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Intents   []*Intent `json:"intents"`
}

// markDirty schedules a debounced save. Callers hold s.mu.
func (s *Stack) markDirty() {
	if s.config.StatePath == "" || s.dirty {
		return
	}
	s.dirty = true
	s.saveTimer = time.AfterFunc(2*time.Second, func() {
		if err := s.Save(); err != nil {
			logging.AutonomyWarn("stack: snapshot failed: %v", err)
		}
	})
}

// Save writes the stack snapshot atomically (temp + rename).
func (s *Stack) Save() error {
	s.mu.Lock()
	state := stackState{
		Version:   "1",
		UpdatedAt: time.Now(),
		Intents:   make([]*Intent, len(s.items)),
	}
	copy(state.Intents, s.items)
	path := s.config.StatePath
	s.dirty = false
	s.mu.Unlock()

	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal intent stack: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write intent snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores the stack from its snapshot file. A missing file is not an
// error; the stack simply starts empty.
func (s *Stack) Load() error {
	if s.config.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.config.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read intent snapshot: %w", err)
	}

	var state stackState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse intent snapshot: %w", err)
	}

	s.mu.Lock()
	s.items = state.Intents
	s.mu.Unlock()

	logging.Autonomy("stack: restored %d intent(s) from %s", len(state.Intents), s.config.StatePath)
	return nil
}

// Close flushes any pending snapshot.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	pending := s.dirty
	s.mu.Unlock()

	if pending {
		return s.Save()
	}
	return nil
}
