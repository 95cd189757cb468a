// Package evolution gates self-modification. Every proposed mutation is
// checked against a policy, scanned for identity/economy/canon violations,
// risk-classified, and simulated in a sandbox before anything may deploy.
// Repeated failures freeze the engine.
package evolution

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ===== Risk =====

// Risk classifies how dangerous a mutation is.
type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// MarshalJSON encodes the risk by name.
func (r Risk) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a risk from its name.
func (r *Risk) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "low":
		*r = RiskLow
	case "medium":
		*r = RiskMedium
	case "high":
		*r = RiskHigh
	case "critical":
		*r = RiskCritical
	default:
		return fmt.Errorf("unknown risk %q", s)
	}
	return nil
}

// ===== Attempt state =====

// AttemptState tracks a mutation through its lifecycle:
// proposed → evaluating → (rejected | simulated → approved → deployed →
// {verified, rolled_back}).
type AttemptState int

const (
	StateProposed AttemptState = iota
	StateEvaluating
	StateRejected
	StateSimulated
	StateApproved
	StateDeployed
	StateVerified
	StateRolledBack
)

func (s AttemptState) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateEvaluating:
		return "evaluating"
	case StateRejected:
		return "rejected"
	case StateSimulated:
		return "simulated"
	case StateApproved:
		return "approved"
	case StateDeployed:
		return "deployed"
	case StateVerified:
		return "verified"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalJSON encodes the state by name.
func (s AttemptState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state from its name.
func (s *AttemptState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for candidate := StateProposed; candidate <= StateRolledBack; candidate++ {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown attempt state %q", name)
}

// validTransitions encodes the lifecycle edges.
var validTransitions = map[AttemptState][]AttemptState{
	StateProposed:   {StateEvaluating},
	StateEvaluating: {StateRejected, StateSimulated},
	StateSimulated:  {StateApproved, StateRejected},
	StateApproved:   {StateDeployed},
	StateDeployed:   {StateVerified, StateRolledBack},
}

// CanTransition reports whether the lifecycle permits moving to next.
func (s AttemptState) CanTransition(next AttemptState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s AttemptState) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// ===== Proposal and attempt =====

// Proposal is a requested mutation: new content per file path.
type Proposal struct {
	ID     string            `json:"id"`
	Files  map[string]string `json:"files"`
	Reason string            `json:"reason,omitempty"`
	Source string            `json:"source,omitempty"`
}

// NewProposal builds a proposal with a generated id.
func NewProposal(files map[string]string, reason, source string) Proposal {
	return Proposal{
		ID:     newAttemptID(),
		Files:  files,
		Reason: reason,
		Source: source,
	}
}

// Violation is one scanner finding inside a proposed file.
type Violation struct {
	File   string `json:"file"`
	Domain string `json:"domain"`
	Rule   string `json:"rule"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s violation (rule %s)", v.File, v.Domain, v.Rule)
}

// Attempt records one evaluated mutation. Attempts persist in the engine
// until the policy report is exported.
type Attempt struct {
	ID               string       `json:"id"`
	Timestamp        time.Time    `json:"timestamp"`
	State            AttemptState `json:"state"`
	FilesModified    []string     `json:"files_modified"`
	RiskLevel        Risk         `json:"risk_level"`
	PolicyCompliant  bool         `json:"policy_compliant"`
	SimulationPassed bool         `json:"simulation_passed"`
	Deployed         bool         `json:"deployed"`
	RollbackRequired bool         `json:"rollback_required"`
	HarmDetected     bool         `json:"harm_detected"`
	DebtAccumulated  float64      `json:"debt_accumulated"`
	Reason           string       `json:"reason,omitempty"`
	Violations       []Violation  `json:"violations,omitempty"`
}

func newAttemptID() string {
	return "mut_" + uuid.NewString()[:8]
}
