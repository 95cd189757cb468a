package tools

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"anima/internal/cml"
	"anima/internal/economy"
	"anima/internal/evolution"
	"anima/internal/logging"
)

// BuiltinDeps carries the runtime surfaces the built-in capabilities act
// on. Prune is the orchestrator's idempotency sweep, wired at boot.
type BuiltinDeps struct {
	Economy   *economy.Economy
	Memory    *cml.Graph
	Evolution *evolution.Engine
	Prune     func() int
}

// RegisterBuiltins registers the reflexive capabilities every runtime
// carries: self-maintenance, memory retrieval, failure-pattern search, and
// mutation proposal. These are the tools the autonomy loop reaches for on
// its own; external embeddings register their capabilities alongside.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	entries := []struct {
		name       string
		domain     string
		capability Capability
	}{
		{"maintainer.tick", "maintenance", &maintainerTick{deps: deps}},
		{"memory.retrieve", "memory", &memoryRetrieve{graph: deps.Memory}},
		{"memory.search_patterns", "memory", &memorySearchPatterns{graph: deps.Memory}},
		{"evolution.propose_mutation", "evolution", &proposeMutation{engine: deps.Evolution}},
	}
	for _, e := range entries {
		if err := reg.Register(e.name, e.domain, e.capability); err != nil {
			return err
		}
	}
	logging.Tools("registered %d built-in capabilities", len(entries))
	return nil
}

// ===== maintainer.tick =====

// maintainerTick is the self-maintenance heartbeat: regenerate the budget,
// sweep the idempotency cache, and surface throttle advice for the tools
// that earned it.
type maintainerTick struct {
	deps BuiltinDeps
}

func (m *maintainerTick) EstimateCost(*Envelope) float64 { return 0.01 }

func (m *maintainerTick) Execute(ctx context.Context, env *Envelope) Result {
	out := map[string]any{}

	if m.deps.Economy != nil {
		out["budget"] = m.deps.Economy.Tick()
	}
	if m.deps.Prune != nil {
		out["idempotency_pruned"] = m.deps.Prune()
	}
	if m.deps.Memory != nil {
		out["memory_nodes"] = m.deps.Memory.Len()
	}
	if m.deps.Evolution != nil {
		if frozen, reason := m.deps.Evolution.Frozen(); frozen {
			out["evolution_frozen"] = reason
		}
	}

	return Result{Success: true, Output: out, CostSpent: 0.01}
}

// ===== memory.retrieve =====

// memoryRetrieve reads back causal memory. Context keys:
//
//	query  substring filter on node content (optional)
//	type   node type name filter (optional)
//	limit  max nodes returned, newest first (default 10)
type memoryRetrieve struct {
	graph *cml.Graph
}

func (m *memoryRetrieve) EstimateCost(*Envelope) float64 { return 0.05 }

func (m *memoryRetrieve) Execute(ctx context.Context, env *Envelope) Result {
	if m.graph == nil {
		return Failure(ErrCodeDependencyUnavailable, "causal memory is not attached")
	}

	var typeFilter *cml.NodeType
	if name := env.Context["type"]; name != "" {
		t, err := cml.ParseNodeType(name)
		if err != nil {
			return Failure(ErrCodeInvalidRequest, "bad type filter: %v", err)
		}
		typeFilter = &t
	}

	limit := 10
	if raw := env.Context["limit"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Failure(ErrCodeInvalidRequest, "bad limit %q", raw)
		}
		limit = n
	}

	query := strings.ToLower(env.Context["query"])
	nodes := m.graph.FindBefore(math.MaxFloat64, typeFilter)

	matches := make([]map[string]any, 0, limit)
	for i := len(nodes) - 1; i >= 0 && len(matches) < limit; i-- {
		n := nodes[i]
		if query != "" && !strings.Contains(strings.ToLower(n.Content), query) {
			continue
		}
		matches = append(matches, map[string]any{
			"id":         n.ID,
			"type":       n.Type.String(),
			"content":    n.Content,
			"source":     n.Source,
			"timestamp":  n.Timestamp,
			"confidence": n.Confidence,
		})
	}

	return Result{
		Success:   true,
		Output:    map[string]any{"nodes": matches, "total": m.graph.Len()},
		CostSpent: 0.05,
	}
}

// ===== memory.search_patterns =====

// memorySearchPatterns surfaces recurring failures from causal memory so
// the loop can learn from them instead of repeating them.
type memorySearchPatterns struct {
	graph *cml.Graph
}

func (m *memorySearchPatterns) EstimateCost(*Envelope) float64 { return 0.05 }

func (m *memorySearchPatterns) Execute(ctx context.Context, env *Envelope) Result {
	if m.graph == nil {
		return Failure(ErrCodeDependencyUnavailable, "causal memory is not attached")
	}
	patterns := m.graph.FindFailurePatterns()
	return Result{
		Success:   true,
		Output:    map[string]any{"patterns": patterns, "count": len(patterns)},
		CostSpent: 0.05,
	}
}

// ===== evolution.propose_mutation =====

// proposeMutation submits a self-modification for policy evaluation.
// Context keys:
//
//	files   JSON object mapping path to new content (required)
//	reason  why the mutation is wanted (optional)
type proposeMutation struct {
	engine *evolution.Engine
}

func (p *proposeMutation) EstimateCost(*Envelope) float64 { return 1.0 }

func (p *proposeMutation) Execute(ctx context.Context, env *Envelope) Result {
	if p.engine == nil {
		return Failure(ErrCodeDependencyUnavailable, "evolution engine is not attached")
	}

	raw := env.Context["files"]
	if raw == "" {
		return Failure(ErrCodeInvalidRequest, "context key %q is required", "files")
	}
	var files map[string]string
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return Failure(ErrCodeInvalidRequest, "bad files payload: %v", err)
	}
	if len(files) == 0 {
		return Failure(ErrCodeInvalidRequest, "mutation proposes no files")
	}

	source := env.Caller
	if source == "" {
		source = env.Context["source"]
	}
	proposal := evolution.NewProposal(files, env.Context["reason"], source)
	attempt := p.engine.Evaluate(ctx, proposal)

	if attempt.State == evolution.StateRejected {
		res := Failure(ErrCodePolicyBlocked, "mutation rejected: %s", attempt.Reason)
		res.Details = attempt
		res.CostSpent = 1.0
		return res
	}
	return Result{
		Success:       true,
		Output:        attempt,
		CostSpent:     1.0,
		MemoryWritten: false,
	}
}
