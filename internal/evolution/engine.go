package evolution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"anima/internal/logging"
)

// FreezeReason is the rejection reason while the engine is frozen.
const FreezeReason = "evolution_freeze_active"

// EngineConfig wires the engine to its workspace and test runner.
type EngineConfig struct {
	Policy    Policy
	Workspace string
	Tests     TestRunner
	// ReportPath, when set, persists the report (attempts, harm count,
	// freeze state) on every state change and restores it at construction.
	ReportPath string
}

// Engine evaluates mutation proposals. Failed simulations and rollbacks
// count as harm; reaching the policy threshold freezes the engine until an
// operator unfreezes it. Attempts persist until the report is exported.
type Engine struct {
	mu         sync.Mutex
	policy     Policy
	sim        *Simulator
	workspace  string
	reportPath string

	attempts  []Attempt
	proposals map[string]Proposal
	approvals map[string]int
	stash     map[string]map[string]*string

	harmCount int
	frozen    bool
}

// NewEngine builds an engine. Zero policy fields are backfilled from the
// defaults; MustSimulate is taken as given. With a report path configured,
// the prior report's attempts, harm count, and freeze state are restored,
// so a freeze outlives the process that triggered it.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		policy:     cfg.Policy.normalize(),
		sim:        NewSimulator(cfg.Workspace, cfg.Tests),
		workspace:  cfg.Workspace,
		reportPath: cfg.ReportPath,
		proposals:  make(map[string]Proposal),
		approvals:  make(map[string]int),
		stash:      make(map[string]map[string]*string),
	}
	if cfg.ReportPath != "" {
		r, err := LoadReport(cfg.ReportPath)
		if err != nil {
			logging.EvolutionWarn("restore report %s: %v (starting clean)", cfg.ReportPath, err)
			return e
		}
		e.attempts = r.Attempts
		e.harmCount = r.HarmCount
		e.frozen = r.Frozen
		if r.Frozen {
			logging.EvolutionWarn("engine resumes frozen (harm count %d)", r.HarmCount)
		}
	}
	return e
}

// Evaluate runs the decision procedure over one proposal and records the
// attempt. Frozen engines reject immediately without simulating.
func (e *Engine) Evaluate(ctx context.Context, p Proposal) Attempt {
	e.mu.Lock()
	policy := e.policy
	frozen := e.frozen
	e.mu.Unlock()

	id := p.ID
	if id == "" {
		id = newAttemptID()
	}
	attempt := Attempt{
		ID:            id,
		Timestamp:     time.Now().UTC(),
		State:         StateEvaluating,
		FilesModified: sortedPaths(p.Files),
	}

	if frozen {
		attempt.State = StateRejected
		attempt.Reason = FreezeReason
		return e.record(attempt)
	}

	if len(p.Files) > policy.MaxFiles {
		attempt.State = StateRejected
		attempt.RiskLevel = classifyRisk(attempt.FilesModified)
		attempt.Reason = fmt.Sprintf("touches %d files, policy allows %d", len(p.Files), policy.MaxFiles)
		return e.record(attempt)
	}

	if path, token, ok := forbiddenPath(attempt.FilesModified, policy.ForbiddenDomains); ok {
		attempt.State = StateRejected
		attempt.RiskLevel = RiskCritical
		attempt.Reason = fmt.Sprintf("%s touches forbidden domain %q", path, token)
		return e.record(attempt)
	}

	if violations := Scan(p.Files); len(violations) > 0 {
		attempt.State = StateRejected
		attempt.RiskLevel = RiskCritical
		attempt.Violations = violations
		attempt.Reason = violations[0].String()
		return e.record(attempt)
	}

	attempt.PolicyCompliant = true
	attempt.RiskLevel = classifyRisk(attempt.FilesModified)

	if policy.MustSimulate {
		simCtx, cancel := context.WithTimeout(ctx, policy.SimulationTimeout)
		res := e.sim.Run(simCtx, p)
		cancel()
		attempt.SimulationPassed = res.Passed
		if !res.Passed {
			attempt.State = StateRejected
			attempt.HarmDetected = true
			attempt.Violations = res.Violations
			attempt.Reason = res.FailureReason
			e.recordHarm()
			return e.record(attempt)
		}
	} else {
		attempt.Reason = "simulation skipped by policy"
	}

	attempt.State = StateSimulated
	e.mu.Lock()
	e.proposals[id] = p
	e.mu.Unlock()
	return e.record(attempt)
}

// Approve counts one review toward the attempt. The attempt advances once
// the policy's required review count is met; a zero requirement advances on
// the first call.
func (e *Engine) Approve(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.findLocked(id)
	if a == nil {
		return fmt.Errorf("unknown attempt %s", id)
	}
	if a.State != StateSimulated {
		return fmt.Errorf("cannot approve attempt in state %s", a.State)
	}
	e.approvals[id]++
	needed := e.policy.RequiredReviews
	if needed < 1 {
		needed = 1
	}
	if e.approvals[id] < needed {
		logging.Evolution("mutation %s has %d of %d required reviews", id, e.approvals[id], needed)
		return nil
	}
	a.State = StateApproved
	e.saveReportLocked()
	logging.Evolution("mutation %s approved", id)
	return nil
}

// Deploy writes an approved mutation into the workspace, stashing prior
// file contents for rollback.
func (e *Engine) Deploy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.findLocked(id)
	if a == nil {
		return fmt.Errorf("unknown attempt %s", id)
	}
	if a.State != StateApproved {
		return fmt.Errorf("cannot deploy attempt in state %s", a.State)
	}
	if e.workspace == "" {
		return fmt.Errorf("no workspace configured")
	}
	p, ok := e.proposals[id]
	if !ok {
		return fmt.Errorf("proposal for attempt %s no longer held", id)
	}

	prior := make(map[string]*string, len(p.Files))
	for path, content := range p.Files {
		target := filepath.Join(e.workspace, filepath.FromSlash(path))
		if old, err := os.ReadFile(target); err == nil {
			s := string(old)
			prior[path] = &s
		} else {
			prior[path] = nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			e.restoreLocked(prior)
			return fmt.Errorf("deploy %s: %w", path, err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			e.restoreLocked(prior)
			return fmt.Errorf("deploy %s: %w", path, err)
		}
	}

	e.stash[id] = prior
	a.State = StateDeployed
	a.Deployed = true
	e.saveReportLocked()
	logging.Evolution("mutation %s deployed to %d files", id, len(p.Files))
	return nil
}

// Verify marks a deployed mutation as sound and drops its rollback stash.
func (e *Engine) Verify(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.findLocked(id)
	if a == nil {
		return fmt.Errorf("unknown attempt %s", id)
	}
	if a.State != StateDeployed {
		return fmt.Errorf("cannot verify attempt in state %s", a.State)
	}
	a.State = StateVerified
	delete(e.stash, id)
	delete(e.proposals, id)
	e.saveReportLocked()
	logging.Evolution("mutation %s verified", id)
	return nil
}

// Rollback restores the stashed contents of a deployed mutation and counts
// the harm.
func (e *Engine) Rollback(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.findLocked(id)
	if a == nil {
		return fmt.Errorf("unknown attempt %s", id)
	}
	if a.State != StateDeployed {
		return fmt.Errorf("cannot roll back attempt in state %s", a.State)
	}
	e.restoreLocked(e.stash[id])
	delete(e.stash, id)
	delete(e.proposals, id)
	a.State = StateRolledBack
	a.RollbackRequired = true
	a.HarmDetected = true
	e.harmLocked()
	e.saveReportLocked()
	logging.EvolutionWarn("mutation %s rolled back", id)
	return nil
}

// restoreLocked writes stashed contents back. A nil entry means the file
// did not exist before deploy.
func (e *Engine) restoreLocked(prior map[string]*string) {
	for path, content := range prior {
		target := filepath.Join(e.workspace, filepath.FromSlash(path))
		if content == nil {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				logging.EvolutionWarn("rollback remove %s: %v", path, err)
			}
			continue
		}
		if err := os.WriteFile(target, []byte(*content), 0o644); err != nil {
			logging.EvolutionWarn("rollback restore %s: %v", path, err)
		}
	}
}

// ExportReport returns all recorded attempts and clears them.
func (e *Engine) ExportReport() []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Attempt, len(e.attempts))
	copy(out, e.attempts)
	e.attempts = nil
	e.saveReportLocked()
	return out
}

// Attempts returns a copy of the recorded attempts without clearing.
func (e *Engine) Attempts() []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Attempt, len(e.attempts))
	copy(out, e.attempts)
	return out
}

// Frozen reports whether the engine rejects all proposals, and why.
func (e *Engine) Frozen() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.frozen {
		return false, ""
	}
	return true, FreezeReason
}

// Freeze halts all evolution until Unfreeze.
func (e *Engine) Freeze() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.frozen {
		e.frozen = true
		e.saveReportLocked()
		logging.EvolutionWarn("evolution frozen by operator")
	}
}

// Unfreeze resumes evolution and resets the harm counter.
func (e *Engine) Unfreeze() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		e.frozen = false
		e.harmCount = 0
		e.saveReportLocked()
		logging.Evolution("evolution unfrozen, harm counter reset")
	}
}

// HarmCount returns the observed-failure count since the last unfreeze.
func (e *Engine) HarmCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.harmCount
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// SetPolicy swaps the active policy. The watcher calls this on file change.
func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p.normalize()
	logging.Evolution("evolution policy updated: max_files=%d must_simulate=%v freeze_threshold=%d",
		e.policy.MaxFiles, e.policy.MustSimulate, e.policy.AutoFreezeThreshold)
}

func (e *Engine) record(a Attempt) Attempt {
	e.mu.Lock()
	e.attempts = append(e.attempts, a)
	e.saveReportLocked()
	e.mu.Unlock()
	if a.State == StateRejected {
		logging.Evolution("mutation %s rejected: %s", a.ID, a.Reason)
	} else {
		logging.EvolutionDebug("mutation %s %s (risk %s)", a.ID, a.State, a.RiskLevel)
	}
	return a
}

func (e *Engine) recordHarm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.harmLocked()
}

func (e *Engine) harmLocked() {
	e.harmCount++
	if !e.frozen && e.harmCount >= e.policy.AutoFreezeThreshold {
		e.frozen = true
		logging.EvolutionWarn("evolution frozen after %d harmful attempts", e.harmCount)
	}
}

func (e *Engine) findLocked(id string) *Attempt {
	for i := range e.attempts {
		if e.attempts[i].ID == id {
			return &e.attempts[i]
		}
	}
	return nil
}

// ===== Risk classification =====

var corePathMarkers = map[string]bool{
	"core":         true,
	"autonomy":     true,
	"orchestrator": true,
	"boot":         true,
}

func isCorePath(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if corePathMarkers[seg] {
			return true
		}
	}
	return filepath.Base(path) == "main.go"
}

func isConfigFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json", ".toml", ".ini":
		return true
	}
	return strings.Contains(strings.ToLower(filepath.Base(path)), "config")
}

// classifyRisk counts risk factors: a core path, configuration files, and
// breadth of four or more files.
func classifyRisk(paths []string) Risk {
	var core, config bool
	for _, p := range paths {
		if isCorePath(p) {
			core = true
		}
		if isConfigFile(p) {
			config = true
		}
	}
	factors := 0
	if core {
		factors++
	}
	if config {
		factors++
	}
	if len(paths) >= 4 {
		factors++
	}
	switch {
	case factors >= 3:
		return RiskCritical
	case factors == 2:
		return RiskHigh
	case factors == 1:
		return RiskMedium
	default:
		return RiskLow
	}
}

func forbiddenPath(paths, domains []string) (string, string, bool) {
	for _, p := range paths {
		lower := strings.ToLower(filepath.ToSlash(p))
		for _, d := range domains {
			if strings.Contains(lower, strings.ToLower(d)) {
				return p, d, true
			}
		}
	}
	return "", "", false
}

func sortedPaths(files map[string]string) []string {
	out := make([]string, 0, len(files))
	for p := range files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
