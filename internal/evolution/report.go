package evolution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anima/internal/logging"
)

// Report is the engine's serialized state: every recorded attempt plus the
// freeze state and harm counter that decide whether proposals are heard.
// The report file is the only place freeze state survives a restart; a
// frozen agent must not thaw itself by rebooting.
type Report struct {
	GeneratedAt  time.Time `json:"generated_at"`
	Frozen       bool      `json:"frozen"`
	FreezeReason string    `json:"freeze_reason,omitempty"`
	HarmCount    int       `json:"harm_count"`
	Attempts     []Attempt `json:"attempts"`
}

// Report snapshots the engine state without clearing anything.
func (e *Engine) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reportLocked()
}

func (e *Engine) reportLocked() Report {
	r := Report{
		GeneratedAt: time.Now().UTC(),
		Frozen:      e.frozen,
		HarmCount:   e.harmCount,
		Attempts:    make([]Attempt, len(e.attempts)),
	}
	if e.frozen {
		r.FreezeReason = FreezeReason
	}
	copy(r.Attempts, e.attempts)
	return r
}

// saveReportLocked writes the configured report file. Callers hold e.mu.
// Mutation attempts are rare events, so the write is synchronous.
func (e *Engine) saveReportLocked() {
	if e.reportPath == "" {
		return
	}
	if err := SaveReport(e.reportPath, e.reportLocked()); err != nil {
		logging.EvolutionWarn("save report %s: %v", e.reportPath, err)
	}
}

// SaveReport writes a report as indented JSON via temp file + rename.
func SaveReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadReport reads a report file. A missing file yields an empty report.
func LoadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, nil
		}
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("parse report: %w", err)
	}
	return r, nil
}
