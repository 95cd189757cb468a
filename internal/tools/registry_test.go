package tools

import (
	"context"
	"errors"
	"testing"
)

func echoCapability() Capability {
	return CapabilityFunc{
		Cost: 0.1,
		Fn: func(ctx context.Context, env *Envelope) Result {
			return Result{Success: true, Output: "echo: " + env.Action, CostSpent: 0.1}
		},
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register("echo", "general", echoCapability()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("echo")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Name != "echo" || got.Domain != "general" {
		t.Errorf("got registration %q/%q, want echo/general", got.Name, got.Domain)
	}
	if !reg.Has("echo") {
		t.Error("Has returned false for registered tool")
	}
	if reg.Has("missing") {
		t.Error("Has returned true for unregistered tool")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register("dupe", "general", echoCapability()); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := reg.Register("dupe", "general", echoCapability())
	if !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register("", "general", echoCapability()); !errors.Is(err, ErrToolNameEmpty) {
		t.Errorf("empty name: expected ErrToolNameEmpty, got %v", err)
	}
	if err := reg.Register("noop", "general", nil); !errors.Is(err, ErrNilCapability) {
		t.Errorf("nil capability: expected ErrNilCapability, got %v", err)
	}
}

func TestByDomainSorted(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("memory.search_patterns", "memory", echoCapability())
	reg.MustRegister("memory.retrieve", "memory", echoCapability())
	reg.MustRegister("maintainer.tick", "maintenance", echoCapability())

	mem := reg.ByDomain("memory")
	if len(mem) != 2 {
		t.Fatalf("expected 2 memory tools, got %d", len(mem))
	}
	if mem[0].Name != "memory.retrieve" || mem[1].Name != "memory.search_patterns" {
		t.Errorf("domain listing not sorted by name: %s, %s", mem[0].Name, mem[1].Name)
	}

	names := reg.Names()
	want := []string{"maintainer.tick", "memory.retrieve", "memory.search_patterns"}
	if len(names) != len(want) {
		t.Fatalf("Names returned %d entries, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{
			name: "valid",
			env:  Envelope{ToolName: "echo", Action: "say hi", RiskLevel: RiskLow, EstimatedCost: 0.1},
		},
		{
			name:    "missing tool name",
			env:     Envelope{Action: "say hi"},
			wantErr: true,
		},
		{
			name:    "negative cost",
			env:     Envelope{ToolName: "echo", EstimatedCost: -1},
			wantErr: true,
		},
		{
			name:    "unrecognized risk level",
			env:     Envelope{ToolName: "echo", RiskLevel: RiskLevel(7)},
			wantErr: true,
		},
		{
			name:    "negative deadline",
			env:     Envelope{ToolName: "echo", DeadlineMS: -5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvelopeDigest(t *testing.T) {
	a := Envelope{
		ToolName:      "memory.retrieve",
		Domain:        "memory",
		Action:        "recall deploy notes",
		Context:       map[string]string{"query": "deploys", "limit": "5"},
		RiskLevel:     RiskLow,
		EstimatedCost: 0.5,
		RequestID:     "req-1",
	}
	b := a
	b.Context = map[string]string{"limit": "5", "query": "deploys"}
	b.RequestID = "req-2"
	b.TraceID = "trace-9"

	if a.Digest() != b.Digest() {
		t.Error("digest should ignore per-request fields and context ordering")
	}

	c := a
	c.Action = "recall incident notes"
	if a.Digest() == c.Digest() {
		t.Error("digest should change with the action")
	}
	if len(a.Digest()) != 16 {
		t.Errorf("digest length = %d, want 16", len(a.Digest()))
	}
}

func TestRiskLevelJSON(t *testing.T) {
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh} {
		data, err := r.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal %v: %v", r, err)
		}
		var back RiskLevel
		if err := back.UnmarshalJSON(data); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != r {
			t.Errorf("round trip: got %v, want %v", back, r)
		}
	}

	if _, err := ParseRiskLevel("catastrophic"); err == nil {
		t.Error("expected error for unknown risk level name")
	}
}

func TestErrorCodeRetryable(t *testing.T) {
	retryable := []ErrorCode{ErrCodeToolCrash, ErrCodeTimeout, ErrCodeOverloaded, ErrCodeDependencyUnavailable}
	terminal := []ErrorCode{ErrCodeInvalidRequest, ErrCodeCanonViolation, ErrCodeTrustRejected, ErrCodePolicyBlocked, ErrCodeInternal}

	for _, code := range retryable {
		if !code.Retryable() {
			t.Errorf("%s should be retryable", code)
		}
	}
	for _, code := range terminal {
		if code.Retryable() {
			t.Errorf("%s should not be retryable", code)
		}
	}

	res := Failure(ErrCodeOverloaded, "queue depth %d exceeded", 64)
	if res.Success || !res.Retryable || res.ErrorCode != ErrCodeOverloaded {
		t.Errorf("Failure built unexpected result: %+v", res)
	}
	if res.Message != "queue depth 64 exceeded" {
		t.Errorf("Failure message = %q", res.Message)
	}
}
