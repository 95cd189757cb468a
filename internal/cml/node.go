// Package cml is the causal memory layer: an append-only graph of events,
// decisions, observations, and outcomes, linked by weighted causal edges.
// It answers "why did this happen" and "what changed" over the agent's own
// history.
package cml

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeType classifies memory nodes.
type NodeType int

const (
	NodeEvent NodeType = iota
	NodeDecision
	NodeObservation
	NodeOutcome
)

// String returns the node type name.
func (t NodeType) String() string {
	switch t {
	case NodeEvent:
		return "event"
	case NodeDecision:
		return "decision"
	case NodeObservation:
		return "observation"
	case NodeOutcome:
		return "outcome"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseNodeType resolves a node type name.
func ParseNodeType(s string) (NodeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "event":
		return NodeEvent, nil
	case "decision":
		return NodeDecision, nil
	case "observation":
		return NodeObservation, nil
	case "outcome":
		return NodeOutcome, nil
	default:
		return 0, fmt.Errorf("unknown node type %q", s)
	}
}

// MarshalJSON writes the type as its name.
func (t NodeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON reads the type from its name.
func (t *NodeType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseNodeType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Node is one vertex in the causal graph. Nodes are append-only: once added
// they are never removed, and only their causes/effects lists grow (via
// AddEdge).
type Node struct {
	ID          string         `json:"id"`
	Type        NodeType       `json:"type"`
	Timestamp   float64        `json:"timestamp"` // unix seconds
	Content     string         `json:"content"`
	Source      string         `json:"source,omitempty"`
	Confidence  float64        `json:"confidence"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Causes      []string       `json:"causes,omitempty"`
	Effects     []string       `json:"effects,omitempty"`
	RegretLevel *float64       `json:"regret_level,omitempty"` // outcomes only
}

// Edge is a weighted causal link from one node to another.
type Edge struct {
	ID         string         `json:"id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Confidence float64        `json:"confidence"`
	LatencyMS  float64        `json:"latency_ms,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// newNodeID builds a `<type>_<random>` identifier.
func newNodeID(t NodeType) string {
	return fmt.Sprintf("%s_%s", t, uuid.NewString()[:8])
}

func newEdgeID() string {
	return fmt.Sprintf("edge_%s", uuid.NewString()[:8])
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
