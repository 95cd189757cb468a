package cml

import (
	"fmt"
	"math"
	"sort"
)

// =============================================================================
// WHY
// =============================================================================

// WhyEntry is one link in a causal explanation chain.
type WhyEntry struct {
	Node  *Node `json:"node"`
	Depth int   `json:"depth"`
}

// WhyResult is the full answer to "why did this happen": the causes of the
// queried node in breadth-first order (direct causes at depth 1, their
// causes at depth 2, and so on) and an aggregate confidence. The aggregate
// is the geometric mean of the chain's node confidences, so one weak link
// drags the whole explanation down. The queried node itself is not part of
// the chain.
type WhyResult struct {
	OutcomeID  string     `json:"outcome_id"`
	Chain      []WhyEntry `json:"chain"`
	Confidence float64    `json:"confidence"`
}

// Why walks the causes of a node breadth-first and returns the ordered
// chain with its aggregate confidence.
func (g *Graph) Why(outcomeID string) (WhyResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.nodes[outcomeID]
	if !ok {
		return WhyResult{}, fmt.Errorf("node %s not found", outcomeID)
	}

	type item struct {
		node  *Node
		depth int
	}
	visited := map[string]bool{start.ID: true}
	queue := []item{{start, 0}}
	result := WhyResult{OutcomeID: outcomeID}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth > 0 {
			result.Chain = append(result.Chain, WhyEntry{Node: cur.node, Depth: cur.depth})
		}

		for _, cid := range cur.node.Causes {
			if visited[cid] {
				continue
			}
			cause, ok := g.nodes[cid]
			if !ok {
				continue
			}
			visited[cid] = true
			queue = append(queue, item{cause, cur.depth + 1})
		}
	}

	result.Confidence = geometricMean(result.Chain)
	return result, nil
}

func geometricMean(chain []WhyEntry) float64 {
	if len(chain) == 0 {
		return 0
	}
	var logSum float64
	for _, entry := range chain {
		c := entry.Node.Confidence
		if c <= 0 {
			return 0
		}
		logSum += math.Log(c)
	}
	return math.Exp(logSum / float64(len(chain)))
}

// =============================================================================
// WHAT CHANGED
// =============================================================================

// ChangeReport summarizes graph activity between two instants. The window
// is split at its midpoint; a decision-frequency ratio above 2 or below 0.5
// between the halves marks a significant change.
type ChangeReport struct {
	From          float64 `json:"from"`
	To            float64 `json:"to"`
	NewDecisions  []*Node `json:"new_decisions"`
	NewOutcomes   []*Node `json:"new_outcomes"`
	DecisionRatio float64 `json:"decision_ratio"`
	Direction     string  `json:"direction"` // increased, decreased, stable
	Significant   bool    `json:"significant"`
	Reason        string  `json:"reason,omitempty"`
}

// WhatChanged reports new decisions and outcomes in [t0, t1) and flags
// significant shifts in decision frequency.
func (g *Graph) WhatChanged(t0, t1 float64) ChangeReport {
	if t1 < t0 {
		t0, t1 = t1, t0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	report := ChangeReport{
		From:         t0,
		To:           t1,
		NewDecisions: g.betweenLocked(t0, t1, NodeDecision),
		NewOutcomes:  g.betweenLocked(t0, t1, NodeOutcome),
	}

	mid := t0 + (t1-t0)/2
	var first, second int
	for _, d := range report.NewDecisions {
		if d.Timestamp < mid {
			first++
		} else {
			second++
		}
	}

	switch {
	case first == 0 && second == 0:
		report.DecisionRatio = 1
	case first == 0:
		report.DecisionRatio = math.Inf(1)
	default:
		report.DecisionRatio = float64(second) / float64(first)
	}

	switch {
	case report.DecisionRatio > 2:
		report.Direction = "increased"
		report.Significant = true
		report.Reason = fmt.Sprintf("decision frequency increased %.2fx between window halves", report.DecisionRatio)
	case report.DecisionRatio < 0.5:
		report.Direction = "decreased"
		report.Significant = true
		report.Reason = fmt.Sprintf("decision frequency decreased to %.2fx between window halves", report.DecisionRatio)
	default:
		report.Direction = "stable"
	}
	return report
}

// =============================================================================
// FAILURE PATTERNS
// =============================================================================

// FailurePattern groups failed outcomes that share the same content.
type FailurePattern struct {
	Content  string   `json:"content"`
	Count    int      `json:"count"`
	NodeIDs  []string `json:"node_ids"`
	LastSeen float64  `json:"last_seen"`
}

// FindFailurePatterns returns recurring failures: failed OUTCOME nodes
// whose content repeats, most frequent first.
func (g *Graph) FindFailurePatterns() []FailurePattern {
	g.mu.RLock()
	defer g.mu.RUnlock()

	byContent := make(map[string]*FailurePattern)
	for _, id := range g.byType[NodeOutcome] {
		n := g.nodes[id]
		success, ok := n.Metadata["success"].(bool)
		if !ok || success {
			continue
		}
		p, ok := byContent[n.Content]
		if !ok {
			p = &FailurePattern{Content: n.Content}
			byContent[n.Content] = p
		}
		p.Count++
		p.NodeIDs = append(p.NodeIDs, n.ID)
		if n.Timestamp > p.LastSeen {
			p.LastSeen = n.Timestamp
		}
	}

	var out []FailurePattern
	for _, p := range byContent {
		if p.Count >= 2 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Content < out[j].Content
	})
	return out
}
