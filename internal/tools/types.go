// Package tools provides the capability registry and the envelope-based
// invocation path that every action in the runtime goes through.
//
// A capability is anything that can estimate and execute a typed Envelope.
// The Orchestrator is the sole execution path: it validates the envelope,
// replays idempotent calls, enforces deadlines, runs the canon check for
// human-originated calls, captures panics, and records every execution in
// the action ledger and the economy.
//
// Architecture:
//
//	Envelope → Orchestrator.Invoke → Registry.Get() → Capability.Execute() → Result
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ===== Risk levels =====

// RiskLevel classifies how dangerous an invocation is expected to be.
type RiskLevel int

const (
	// RiskLow covers read-only or trivially reversible actions.
	RiskLow RiskLevel = iota
	// RiskMedium covers actions that write state but can be rolled back.
	RiskMedium
	// RiskHigh covers actions with external side effects.
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ParseRiskLevel converts the wire name of a risk level back to its value.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk level %q", s)
	}
}

// MarshalJSON encodes the risk level by name.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a risk level from its name.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ===== Envelope =====

// Envelope is the typed description of one tool invocation. Envelopes live
// only across a single invocation; the orchestrator never retains them.
type Envelope struct {
	// ToolName must match a registered capability.
	ToolName string `json:"tool_name"`

	// Domain groups related capabilities (e.g. "memory", "evolution").
	Domain string `json:"domain,omitempty"`

	// Action describes what the invocation does, in free text.
	Action string `json:"action"`

	// Context carries tool-specific parameters.
	Context map[string]string `json:"context,omitempty"`

	// RiskLevel classifies the invocation.
	RiskLevel RiskLevel `json:"risk_level"`

	// EstimatedCost is the caller's cost guess. The orchestrator takes the
	// max of this and the capability's own estimate.
	EstimatedCost float64 `json:"estimated_cost"`

	// RequestID identifies the request for tracing. Optional.
	RequestID string `json:"request_id,omitempty"`

	// IdempotencyKey dedups logical invocations. Replays of the same
	// (tool_name, idempotency_key) within the retention window return the
	// cached result without re-execution.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// DeadlineMS installs a cooperative execution deadline in milliseconds.
	DeadlineMS int64 `json:"deadline_ms,omitempty"`

	// TraceID propagates a distributed trace. Optional.
	TraceID string `json:"trace_id,omitempty"`

	// Caller identifies who asked for this invocation. Human or user
	// callers are subject to the canon check before execution.
	Caller string `json:"caller,omitempty"`

	// Tenant scopes the invocation in multi-tenant embeddings. Optional.
	Tenant string `json:"tenant,omitempty"`

	// Priority influences queue admission. Nil-priority envelopes are
	// rejected when the queue is saturated; any explicit priority always
	// enqueues.
	Priority *float64 `json:"priority,omitempty"`

	// Sandboxed asks the tool to run against a scratch copy of state.
	Sandboxed bool `json:"sandboxed,omitempty"`

	// RequiresValidation marks the invocation for post-hoc review.
	RequiresValidation bool `json:"requires_validation,omitempty"`

	// RollbackAllowed tells the tool it may emit a rollback token.
	RollbackAllowed bool `json:"rollback_allowed,omitempty"`
}

// Validate checks the envelope's required fields.
func (e *Envelope) Validate() error {
	if e.ToolName == "" {
		return ErrToolNameEmpty
	}
	if e.EstimatedCost < 0 {
		return fmt.Errorf("estimated_cost must be non-negative, got %v", e.EstimatedCost)
	}
	if e.RiskLevel < RiskLow || e.RiskLevel > RiskHigh {
		return fmt.Errorf("unrecognized risk level %d", int(e.RiskLevel))
	}
	if e.DeadlineMS < 0 {
		return fmt.Errorf("deadline_ms must be non-negative, got %d", e.DeadlineMS)
	}
	return nil
}

// Digest returns a short stable fingerprint of the envelope's identity
// fields. Two envelopes describing the same logical call share a digest;
// per-request fields (request id, trace id, deadline) are excluded.
func (e *Envelope) Digest() string {
	var b strings.Builder
	b.WriteString(e.ToolName)
	b.WriteByte('|')
	b.WriteString(e.Domain)
	b.WriteByte('|')
	b.WriteString(e.Action)
	b.WriteByte('|')
	b.WriteString(e.RiskLevel.String())
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(e.EstimatedCost, 'g', -1, 64))
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Context[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// ===== Result =====

// Result is the outcome of one invocation. The orchestrator surfaces every
// failure as a Result value; it never propagates panics or raises for
// budget shortfalls.
type Result struct {
	// Success reports whether the tool did what was asked.
	Success bool `json:"success"`

	// Output is the tool's payload. Opaque to the orchestrator.
	Output any `json:"output,omitempty"`

	// CostSpent is the actual cost charged. When the tool does not report
	// one, the orchestrator fills in its estimate.
	CostSpent float64 `json:"cost_spent"`

	// MemoryWritten reports whether the tool appended to causal memory.
	MemoryWritten bool `json:"memory_written,omitempty"`

	// RollbackToken lets the caller undo the action, when supported.
	RollbackToken string `json:"rollback_token,omitempty"`

	// Warnings carries non-fatal notes from the tool.
	Warnings []string `json:"warnings,omitempty"`

	// ErrorCode classifies the failure. Empty on success.
	ErrorCode ErrorCode `json:"error_code,omitempty"`

	// Message is a human-readable failure description.
	Message string `json:"message,omitempty"`

	// Retryable reports whether the same envelope may be resubmitted.
	Retryable bool `json:"retryable,omitempty"`

	// Details carries failure-specific context. Opaque.
	Details any `json:"details,omitempty"`
}

// ===== Capability =====

// Capability is the interface every tool implements. Execute must honor
// ctx cancellation; long-running tools should poll ctx.Done().
type Capability interface {
	// EstimateCost predicts the cost of executing the envelope.
	EstimateCost(env *Envelope) float64

	// Execute runs the invocation and returns its Result.
	Execute(ctx context.Context, env *Envelope) Result
}

// CapabilityFunc adapts plain functions to the Capability interface.
type CapabilityFunc struct {
	// Cost is the fixed estimate returned by EstimateCost. Optional.
	Cost float64

	// Fn performs the invocation.
	Fn func(ctx context.Context, env *Envelope) Result
}

func (c CapabilityFunc) EstimateCost(env *Envelope) float64 {
	return c.Cost
}

func (c CapabilityFunc) Execute(ctx context.Context, env *Envelope) Result {
	return c.Fn(ctx, env)
}
