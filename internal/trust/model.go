// Package trust tracks a per-source reputation score used to gate and
// weight advice before it reaches the planner.
package trust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"anima/internal/logging"
)

const (
	// InitialScore is assigned to a source on first contact.
	InitialScore = 0.5

	// VerifyThreshold is the floor under which a source's intents and
	// advice are rejected outright.
	VerifyThreshold = 0.3
)

// Outcome classifies how a source's last contribution turned out.
type Outcome int

const (
	OutcomeHelpful Outcome = iota
	OutcomeNeutral
	OutcomeHarmful
	OutcomeExistential
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeHelpful:
		return "helpful"
	case OutcomeNeutral:
		return "neutral"
	case OutcomeHarmful:
		return "harmful"
	case OutcomeExistential:
		return "existential"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Delta returns the score adjustment for the outcome.
func (o Outcome) Delta() float64 {
	switch o {
	case OutcomeHelpful:
		return 0.05
	case OutcomeNeutral:
		return 0.01
	case OutcomeHarmful:
		return -0.2
	case OutcomeExistential:
		return -1.0
	default:
		return 0
	}
}

// Model holds per-source scores. Safe for concurrent use.
type Model struct {
	mu     sync.Mutex
	scores map[string]float64

	statePath string
	dirty     bool
	saveTimer *time.Timer
}

// NewModel creates an empty trust model. statePath may be empty to disable
// persistence.
func NewModel(statePath string) *Model {
	return &Model{
		scores:    make(map[string]float64),
		statePath: statePath,
	}
}

// Get returns the source's score, InitialScore if never seen. Reading does
// not register the source.
func (m *Model) Get(source string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if score, ok := m.scores[source]; ok {
		return score
	}
	return InitialScore
}

// Update applies the outcome's delta to the source and returns the clamped
// new score. Unknown sources start from InitialScore.
func (m *Model) Update(source string, outcome Outcome) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	score, ok := m.scores[source]
	if !ok {
		score = InitialScore
	}
	score += outcome.Delta()
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	m.scores[source] = score
	m.markDirty()

	logging.TrustDebug("source %q %s -> %.2f", source, outcome, score)
	return score
}

// Verify reports whether the source is trusted enough to be heard.
func (m *Model) Verify(source string) bool {
	return m.Get(source) >= VerifyThreshold
}

// AdviceWeight returns trust·confidence for the source, zero when the
// source fails verification.
func (m *Model) AdviceWeight(source string, confidence float64) float64 {
	score := m.Get(source)
	if score < VerifyThreshold {
		return 0
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return score * confidence
}

// Sources returns every known source name, sorted.
func (m *Model) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.scores))
	for source := range m.scores {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// Scores returns a copy of the full score table.
func (m *Model) Scores() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.scores))
	for source, score := range m.scores {
		out[source] = score
	}
	return out
}

// =============================================================================
// PERSISTENCE
// =============================================================================

type modelState struct {
	Version   string             `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	Scores    map[string]float64 `json:"scores"`
}

// markDirty schedules a debounced save. Callers hold m.mu.
func (m *Model) markDirty() {
	if m.statePath == "" || m.dirty {
		return
	}
	m.dirty = true
	m.saveTimer = time.AfterFunc(2*time.Second, func() {
		if err := m.Save(); err != nil {
			logging.Trust("snapshot failed: %v", err)
		}
	})
}

// Save writes the score table atomically (temp + rename).
func (m *Model) Save() error {
	m.mu.Lock()
	state := modelState{
		Version:   "1",
		UpdatedAt: time.Now(),
		Scores:    make(map[string]float64, len(m.scores)),
	}
	for source, score := range m.scores {
		state.Scores[source] = score
	}
	path := m.statePath
	m.dirty = false
	m.mu.Unlock()

	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trust state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write trust snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores scores from the snapshot file. Missing file is not an error.
func (m *Model) Load() error {
	if m.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read trust snapshot: %w", err)
	}

	var state modelState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse trust snapshot: %w", err)
	}

	m.mu.Lock()
	if state.Scores != nil {
		m.scores = state.Scores
	}
	m.mu.Unlock()

	logging.Trust("restored %d source(s) from %s", len(state.Scores), m.statePath)
	return nil
}

// Close flushes any pending snapshot.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	pending := m.dirty
	m.mu.Unlock()

	if pending {
		return m.Save()
	}
	return nil
}
