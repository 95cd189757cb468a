// Package intent defines the intents the autonomy loop pursues and the
// priority stack that owns them.
package intent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// INTENT KIND
// =============================================================================

// Kind is the closed set of intent categories. The canon evaluator and the
// act mapping dispatch on this tag, never on description text.
type Kind int

const (
	// KindMaintain is survival work: health checks, regeneration, repair.
	KindMaintain Kind = iota

	// KindServe is contract work for an external client.
	KindServe

	// KindLearn is self-improvement through proposed mutations.
	KindLearn

	// KindExplore is low-stakes pattern mining of past experience.
	KindExplore
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindMaintain:
		return "MAINTAIN"
	case KindServe:
		return "SERVE"
	case KindLearn:
		return "LEARN"
	case KindExplore:
		return "EXPLORE"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind converts a kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MAINTAIN":
		return KindMaintain, nil
	case "SERVE":
		return KindServe, nil
	case "LEARN":
		return KindLearn, nil
	case "EXPLORE":
		return KindExplore, nil
	default:
		return 0, fmt.Errorf("unknown intent kind: %q", s)
	}
}

// MarshalJSON encodes the kind as its name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind from its name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// =============================================================================
// INTENT STATUS
// =============================================================================

// Status tracks an intent through its lifecycle:
// proposed -> active -> fulfilled, or proposed -> expired | refused.
type Status int

const (
	StatusProposed Status = iota
	StatusActive
	StatusFulfilled
	StatusExpired
	StatusRefused
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusProposed:
		return "proposed"
	case StatusActive:
		return "active"
	case StatusFulfilled:
		return "fulfilled"
	case StatusExpired:
		return "expired"
	case StatusRefused:
		return "refused"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalJSON encodes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "proposed":
		*s = StatusProposed
	case "active":
		*s = StatusActive
	case "fulfilled":
		*s = StatusFulfilled
	case "expired":
		*s = StatusExpired
	case "refused":
		*s = StatusRefused
	default:
		return fmt.Errorf("unknown intent status: %q", str)
	}
	return nil
}

// =============================================================================
// ADVICE AND CONTRACTS
// =============================================================================

// Advice carries a weighted recommendation attached to an intent. The decider
// folds it into the will score as a social signal.
type Advice struct {
	Weight float64 `json:"weight"` // trust * confidence of the advising source
	Favor  bool    `json:"favor"`  // true = push toward acting
}

// ContractState tracks a work contract:
// proposed -> accepted | refused | expired -> completed.
type ContractState string

const (
	ContractProposed  ContractState = "proposed"
	ContractAccepted  ContractState = "accepted"
	ContractRefused   ContractState = "refused"
	ContractExpired   ContractState = "expired"
	ContractCompleted ContractState = "completed"
)

// Contract is the advisory work agreement a SERVE intent acts under.
type Contract struct {
	ID     string        `json:"id"`
	Client string        `json:"client"`
	Reward float64       `json:"reward"`
	State  ContractState `json:"state"`
}

// Transition moves the contract to a new state if the move is legal.
func (c *Contract) Transition(next ContractState) error {
	legal := map[ContractState][]ContractState{
		ContractProposed: {ContractAccepted, ContractRefused, ContractExpired},
		ContractAccepted: {ContractCompleted, ContractExpired},
	}
	for _, allowed := range legal[c.State] {
		if next == allowed {
			c.State = next
			return nil
		}
	}
	return fmt.Errorf("illegal contract transition %s -> %s", c.State, next)
}

// =============================================================================
// INTENT
// =============================================================================

// Intent is one unit of volition: something the agent may choose to do.
type Intent struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Kind        Kind              `json:"kind"`
	Priority    float64           `json:"priority"`
	Source      string            `json:"source"`
	CreatedAt   time.Time         `json:"created_at"`
	Context     map[string]string `json:"context,omitempty"`
	Status      Status            `json:"status"`

	// LastDecayAt anchors the next exponential decay step.
	LastDecayAt time.Time `json:"last_decay_at"`

	// Advice and Contract are optional planner annotations.
	Advice   *Advice   `json:"advice,omitempty"`
	Contract *Contract `json:"contract,omitempty"`

	// ExpectedROI and ExpectedCost are filled by the planner from tool stats.
	ExpectedROI  float64 `json:"expected_roi,omitempty"`
	ExpectedCost float64 `json:"expected_cost,omitempty"`
}

// New creates a proposed intent with a fresh id. Priority is clamped to [0,1].
func New(kind Kind, description, source string, priority float64) *Intent {
	now := time.Now()
	return &Intent{
		ID:          fmt.Sprintf("intent_%s", uuid.NewString()[:8]),
		Description: description,
		Kind:        kind,
		Priority:    clamp01(priority),
		Source:      source,
		CreatedAt:   now,
		LastDecayAt: now,
		Status:      StatusProposed,
	}
}

// AdviceWeight returns the signed social-signal weight, zero without advice.
func (in *Intent) AdviceWeight() float64 {
	if in.Advice == nil {
		return 0
	}
	if in.Advice.Favor {
		return in.Advice.Weight
	}
	return -in.Advice.Weight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
