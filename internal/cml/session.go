package cml

import (
	"fmt"

	"anima/internal/logging"
)

// sessionEdgeConfidence is assigned to the causal edges inserted when an
// outcome closes a session.
const sessionEdgeConfidence = 0.8

// session brackets one reasoning episode: a decision, the observations made
// while acting on it, and finally an outcome.
type session struct {
	id           string
	decisionID   string
	observations []string
	lastTS       float64
}

// stampLocked returns the next timestamp for a session, never going
// backwards. Callers hold g.mu.
func (g *Graph) stampLocked(s *session) float64 {
	ts := g.nowFn()
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts
	return ts
}

// StartDecisionSession opens a reasoning episode and records its DECISION
// node. Starting a session id that is already open replaces the open
// decision and discards its unlinked observations.
func (g *Graph) StartDecisionSession(sessionID, context string) (*Node, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("empty session id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID}
		g.sessions[sessionID] = s
	} else {
		s.observations = nil
	}

	n := &Node{
		ID:         newNodeID(NodeDecision),
		Type:       NodeDecision,
		Timestamp:  g.stampLocked(s),
		Content:    context,
		Source:     sessionID,
		Confidence: 0.9,
	}
	if err := g.addNodeLocked(n); err != nil {
		return nil, err
	}
	s.decisionID = n.ID

	logging.MemoryDebug("session %s: decision %s", sessionID, n.ID)
	return n, nil
}

// RecordToolExecution adds an OBSERVATION for one tool call inside an open
// session. The causal links to the decision and the eventual outcome are
// inserted when RecordOutcome closes the episode.
func (g *Graph) RecordToolExecution(sessionID, toolName, input, result string, cost float64, success bool) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok || s.decisionID == "" {
		return nil, fmt.Errorf("session %s has no open decision", sessionID)
	}

	n := &Node{
		ID:         newNodeID(NodeObservation),
		Type:       NodeObservation,
		Timestamp:  g.stampLocked(s),
		Content:    fmt.Sprintf("%s: %s", toolName, result),
		Source:     sessionID,
		Confidence: 1.0,
		Metadata: map[string]any{
			"tool":    toolName,
			"input":   input,
			"cost":    cost,
			"success": success,
		},
	}
	if err := g.addNodeLocked(n); err != nil {
		return nil, err
	}
	s.observations = append(s.observations, n.ID)
	return n, nil
}

// RecordOutcome closes a session: it records the OUTCOME node, inserts a
// causal edge from every session observation to the outcome, and registers
// each observation in the decision's effects list. Only the
// observation→outcome links are full edges; the decision bookkeeping stays
// one-directional so that a why() chain over the outcome stops at the
// observations that actually produced it.
func (g *Graph) RecordOutcome(sessionID, description string, success bool, metrics map[string]float64) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok || s.decisionID == "" {
		return nil, fmt.Errorf("session %s has no open decision", sessionID)
	}

	meta := map[string]any{"success": success}
	for k, v := range metrics {
		meta[k] = v
	}
	n := &Node{
		ID:         newNodeID(NodeOutcome),
		Type:       NodeOutcome,
		Timestamp:  g.stampLocked(s),
		Content:    description,
		Source:     sessionID,
		Confidence: 1.0,
		Metadata:   meta,
	}
	if regret, ok := metrics["regret"]; ok {
		r := clamp01(regret)
		n.RegretLevel = &r
	}
	if err := g.addNodeLocked(n); err != nil {
		return nil, err
	}

	decision := g.nodes[s.decisionID]
	for _, obsID := range s.observations {
		decision.Effects = append(decision.Effects, obsID)
		if err := g.addEdgeLocked(&Edge{From: obsID, To: n.ID, Confidence: sessionEdgeConfidence}); err != nil {
			return nil, err
		}
	}
	// A session with no observations still yields a usable why() chain.
	if len(s.observations) == 0 {
		if err := g.addEdgeLocked(&Edge{From: s.decisionID, To: n.ID, Confidence: sessionEdgeConfidence}); err != nil {
			return nil, err
		}
	}

	delete(g.sessions, sessionID)
	logging.MemoryDebug("session %s: outcome %s (success=%v, %d observation(s))",
		sessionID, n.ID, success, len(s.observations))
	return n, nil
}

// OpenSessions lists session ids with an open decision.
func (g *Graph) OpenSessions() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.sessions))
	for id := range g.sessions {
		out = append(out, id)
	}
	return out
}
