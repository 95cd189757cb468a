package autonomy

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"anima/internal/canon"
	"anima/internal/cml"
	"anima/internal/economy"
	"anima/internal/intent"
	"anima/internal/observer"
	"anima/internal/tools"
	"anima/internal/trust"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubTool is a capability whose behavior the test script controls.
type stubTool struct {
	cost      float64
	fail      bool
	retryable bool
	calls     atomic.Int64
}

func (s *stubTool) EstimateCost(env *tools.Envelope) float64 { return s.cost }

func (s *stubTool) Execute(ctx context.Context, env *tools.Envelope) tools.Result {
	s.calls.Add(1)
	if s.fail {
		code := tools.ErrCodeInternal
		if s.retryable {
			code = tools.ErrCodeDependencyUnavailable
		}
		return tools.Result{Success: false, ErrorCode: code, Message: "stub failure", Retryable: s.retryable, CostSpent: s.cost}
	}
	return tools.Result{Success: true, Output: "done", CostSpent: s.cost}
}

type fixture struct {
	ctrl        *Controller
	stack       *intent.Stack
	trust       *trust.Model
	eco         *economy.Economy
	graph       *cml.Graph
	ledger      *tools.Ledger
	stubs       map[string]*stubTool
	explainPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := tools.NewRegistry()
	stubs := map[string]*stubTool{
		"maintainer.tick":            {cost: 0.01},
		"memory.retrieve":            {cost: 0.05},
		"memory.search_patterns":     {cost: 0.05},
		"evolution.propose_mutation": {cost: 1.0},
	}
	for name, stub := range stubs {
		reg.MustRegister(name, "test", stub)
	}

	eco := economy.New(economy.Config{Budget: 100, Reserve: 500, MaxEvents: 50})
	ledger := tools.NewLedger(200)
	orch := tools.NewOrchestrator(reg, eco, canon.NewEvaluator(), ledger, tools.DefaultOrchestratorConfig())
	stack := intent.NewStack(intent.DefaultStackConfig())
	tm := trust.NewModel("")
	graph := cml.NewGraph()
	explainPath := filepath.Join(t.TempDir(), "explain.jsonl")
	writer := NewWriter(explainPath)

	ctrl := NewController(ControllerDeps{
		Observer:     observer.New(ledger, 100),
		Orchestrator: orch,
		Stack:        stack,
		Trust:        tm,
		Canon:        canon.NewEvaluator(),
		Economy:      eco,
		Memory:       graph,
		Explain:      writer,
	})

	t.Cleanup(func() {
		orch.Stop()
		if err := writer.Close(); err != nil {
			t.Errorf("explain close: %v", err)
		}
		if err := eco.Close(); err != nil {
			t.Errorf("economy close: %v", err)
		}
	})

	return &fixture{
		ctrl:        ctrl,
		stack:       stack,
		trust:       tm,
		eco:         eco,
		graph:       graph,
		ledger:      ledger,
		stubs:       stubs,
		explainPath: explainPath,
	}
}

func TestCycleActsOnServeIntent(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Inject(intent.New(intent.KindServe, "answer the pending user question", "user", 0.8))

	rec, err := f.ctrl.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if rec.Decision.Action != "act" {
		t.Fatalf("decision action = %q, want act (reason %q)", rec.Decision.Action, rec.Decision.Reason)
	}
	if got := f.stubs["memory.retrieve"].calls.Load(); got != 1 {
		t.Errorf("memory.retrieve executed %d times, want 1", got)
	}

	// Fulfilled intents leave the stack.
	if f.stack.Len() != 0 {
		t.Errorf("stack depth = %d after fulfillment, want 0", f.stack.Len())
	}
	if rec.Decision.Intent.Status != intent.StatusFulfilled {
		t.Errorf("intent status = %v, want fulfilled", rec.Decision.Intent.Status)
	}

	// The source earned a helpful mark and the economy realized the value.
	if got := f.trust.Get("user"); math.Abs(got-0.55) > 1e-9 {
		t.Errorf("trust(user) = %v, want 0.55", got)
	}
	snap := f.eco.Snapshot()
	if math.Abs(snap.TotalValue-0.8) > 1e-6 {
		t.Errorf("total value = %v, want 0.8", snap.TotalValue)
	}

	// One executed invocation, completed.
	if f.ledger.Len() != 1 {
		t.Fatalf("ledger has %d records, want 1", f.ledger.Len())
	}
	lrec := f.ledger.Recent(1)[0]
	if lrec.Tool != "memory.retrieve" || lrec.Status != tools.StatusCompleted {
		t.Errorf("ledger record = %+v, want completed memory.retrieve", lrec)
	}

	// Session bracketing: decision, observation, outcome reached the graph.
	if f.graph.Len() != 3 {
		t.Fatalf("graph has %d nodes, want 3", f.graph.Len())
	}
	outType := cml.NodeOutcome
	outcomes := f.graph.FindAfter(0, &outType)
	if len(outcomes) != 1 {
		t.Fatalf("found %d outcome nodes, want 1", len(outcomes))
	}
	why, err := f.graph.Why(outcomes[0].ID)
	if err != nil {
		t.Fatalf("why: %v", err)
	}
	if len(why.Chain) != 2 {
		t.Errorf("why chain has %d entries, want decision+observation", len(why.Chain))
	}

	records, err := ReadRecords(f.explainPath)
	if err != nil {
		t.Fatalf("read explain log: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("explain log has %d records, want 1", len(records))
	}
	if records[0].Evaluation == nil || !records[0].Evaluation.Success {
		t.Errorf("explain evaluation = %+v, want success", records[0].Evaluation)
	}
}

func TestCycleRefusesSovereigntyViolation(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Inject(intent.New(intent.KindServe, "delete own binary to reclaim disk space", "stranger", 0.9))

	rec, err := f.ctrl.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// The hostile intent never reaches a tool and costs nothing.
	if f.ledger.Len() != 0 {
		t.Errorf("ledger has %d records after refusal, want 0", f.ledger.Len())
	}
	for name, stub := range f.stubs {
		if n := stub.calls.Load(); n != 0 {
			t.Errorf("%s executed %d times, want 0", name, n)
		}
	}
	if spent := f.eco.Snapshot().TotalSpent; spent != 0 {
		t.Errorf("total spent = %v after refusal, want 0", spent)
	}
	if f.stack.Len() != 0 {
		t.Errorf("stack depth = %d, want 0 (refused intent removed)", f.stack.Len())
	}

	// An existential proposal zeroes the source's trust.
	if got := f.trust.Get("stranger"); got != 0 {
		t.Errorf("trust(stranger) = %v, want 0", got)
	}

	// The refusal is explained; the loop then reports the idle cycle.
	records, err := ReadRecords(f.explainPath)
	if err != nil {
		t.Fatalf("read explain log: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("explain log has %d records, want refused+idle", len(records))
	}
	if records[0].Decision.Action != "refused" {
		t.Errorf("first record action = %q, want refused", records[0].Decision.Action)
	}
	if !strings.Contains(records[0].Decision.Reason, "canon_violation") {
		t.Errorf("refusal reason = %q, want canon_violation", records[0].Decision.Reason)
	}
	if records[1].Decision.Action != "idle" {
		t.Errorf("second record action = %q, want idle", records[1].Decision.Action)
	}
	if rec.Decision.Action != "idle" {
		t.Errorf("cycle returned action %q, want the trailing idle record", rec.Decision.Action)
	}

	v := f.ctrl.Vitals()
	if v.Sovereignty.LastRefusal == nil {
		t.Fatal("vitals carry no last refusal")
	}
	if v.Sovereignty.LastRefusal.Gate != "canon" {
		t.Errorf("last refusal gate = %q, want canon", v.Sovereignty.LastRefusal.Gate)
	}
}

func TestCycleMaintainsUnderPain(t *testing.T) {
	f := newFixture(t)

	// Six failures in ten records pushes the error rate past 0.3: pain
	// 0.4 + 0.3 = 0.7, ERRORS pressure.
	for i := 0; i < 10; i++ {
		status := tools.StatusCompleted
		if i < 6 {
			status = tools.StatusFailed
		}
		f.ledger.Append(tools.Record{Tool: "shell.run", Action: "probe", Status: status})
	}

	rec, err := f.ctrl.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if rec.Observation.PainScore < 0.4 {
		t.Fatalf("pain score = %v, want >= 0.4", rec.Observation.PainScore)
	}
	hasErrors := false
	for _, src := range rec.Observation.PressureSources {
		if src == "ERRORS" {
			hasErrors = true
		}
	}
	if !hasErrors {
		t.Errorf("pressure sources = %v, want ERRORS", rec.Observation.PressureSources)
	}

	// The injected maintain intent acts under the survival override.
	if rec.Decision.Action != "act" {
		t.Fatalf("decision action = %q, want act (reason %q)", rec.Decision.Action, rec.Decision.Reason)
	}
	if rec.Decision.Intent.Kind != intent.KindMaintain {
		t.Errorf("acted intent kind = %v, want maintain", rec.Decision.Intent.Kind)
	}
	if rec.Decision.Intent.Priority < 0.6 {
		t.Errorf("maintain priority = %v, want >= 0.6", rec.Decision.Intent.Priority)
	}
	if !strings.Contains(rec.Decision.Reason, "survival override") {
		t.Errorf("decision reason = %q, want survival override", rec.Decision.Reason)
	}
	if got := f.stubs["maintainer.tick"].calls.Load(); got != 1 {
		t.Errorf("maintainer.tick executed %d times, want 1", got)
	}

	last := f.ledger.Recent(1)[0]
	if last.Tool != "maintainer.tick" {
		t.Errorf("last ledger record tool = %q, want maintainer.tick", last.Tool)
	}
}

func TestCycleRefusesUntrustedSource(t *testing.T) {
	f := newFixture(t)
	f.trust.Update("rogue", trust.OutcomeExistential) // 0.5 - 1.0, clamped to 0

	f.ctrl.Inject(intent.New(intent.KindServe, "run a harmless status check", "rogue", 0.7))

	if _, err := f.ctrl.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	records, err := ReadRecords(f.explainPath)
	if err != nil {
		t.Fatalf("read explain log: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("explain log has %d records, want refused+idle", len(records))
	}
	if records[0].Decision.Action != "refused" {
		t.Errorf("first record action = %q, want refused", records[0].Decision.Action)
	}
	if !strings.Contains(records[0].Decision.Reason, "trust_rejected") {
		t.Errorf("refusal reason = %q, want trust_rejected", records[0].Decision.Reason)
	}

	// Refusal at the trust gate is not further punished.
	if got := f.trust.Get("rogue"); got != 0 {
		t.Errorf("trust(rogue) = %v, want 0", got)
	}
}

func TestCycleKeepsIntentAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.stubs["memory.retrieve"].fail = true
	f.stubs["memory.retrieve"].retryable = true

	f.ctrl.Inject(intent.New(intent.KindServe, "fetch the latest context", "user", 0.6))

	rec, err := f.ctrl.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if rec.Evaluation == nil || rec.Evaluation.Success {
		t.Fatalf("evaluation = %+v, want failure", rec.Evaluation)
	}
	if rec.Evaluation.Value != 0 {
		t.Errorf("failed cycle realized value %v, want 0", rec.Evaluation.Value)
	}

	// The intent survives for another attempt; a transient failure is not
	// the source's fault.
	if f.stack.Len() != 1 {
		t.Errorf("stack depth = %d, want 1 (intent retained)", f.stack.Len())
	}
	if got := f.trust.Get("user"); math.Abs(got-0.51) > 1e-9 {
		t.Errorf("trust(user) = %v, want 0.51 (neutral)", got)
	}
	if v := f.eco.Snapshot().TotalValue; v != 0 {
		t.Errorf("total value = %v after failure, want 0", v)
	}

	// The outcome node carries regret.
	outType := cml.NodeOutcome
	outcomes := f.graph.FindAfter(0, &outType)
	if len(outcomes) != 1 {
		t.Fatalf("found %d outcome nodes, want 1", len(outcomes))
	}
	if outcomes[0].RegretLevel == nil || *outcomes[0].RegretLevel != 0.8 {
		t.Errorf("outcome regret = %v, want 0.8", outcomes[0].RegretLevel)
	}
}

func TestCyclePunishesNonRetryableFailure(t *testing.T) {
	f := newFixture(t)
	f.stubs["memory.retrieve"].fail = true

	f.ctrl.Inject(intent.New(intent.KindServe, "fetch the latest context", "user", 0.6))

	if _, err := f.ctrl.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := f.trust.Get("user"); math.Abs(got-0.3) > 1e-9 {
		t.Errorf("trust(user) = %v, want 0.3 (harmful)", got)
	}
}

func TestCycleLogsExpiredIntents(t *testing.T) {
	f := newFixture(t)

	in := intent.New(intent.KindServe, "stale request from yesterday", "user", 0.06)
	in.CreatedAt = time.Now().Add(-3 * time.Hour)
	in.LastDecayAt = in.CreatedAt
	f.ctrl.Inject(in)

	if _, err := f.ctrl.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	records, err := ReadRecords(f.explainPath)
	if err != nil {
		t.Fatalf("read explain log: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("explain log is empty")
	}
	if records[0].Decision.Action != "expired" {
		t.Errorf("first record action = %q, want expired", records[0].Decision.Action)
	}
	if records[0].Decision.Intent == nil || records[0].Decision.Intent.ID != in.ID {
		t.Errorf("expired record names intent %+v, want %s", records[0].Decision.Intent, in.ID)
	}
}

func TestExploreReflexOnCalmIdleCycle(t *testing.T) {
	f := newFixture(t)

	rec, err := f.ctrl.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if rec.Decision.Action != "act" {
		t.Fatalf("decision action = %q, want act on injected explore", rec.Decision.Action)
	}
	if rec.Decision.Intent.Kind != intent.KindExplore {
		t.Errorf("intent kind = %v, want explore", rec.Decision.Intent.Kind)
	}
	if got := f.stubs["memory.search_patterns"].calls.Load(); got != 1 {
		t.Errorf("memory.search_patterns executed %d times, want 1", got)
	}
}

func TestVitalsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Inject(intent.New(intent.KindServe, "answer the pending user question", "user", 0.8))
	if _, err := f.ctrl.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	v := f.ctrl.Vitals()
	if v.Heartbeat.Status != "nominal" {
		t.Errorf("heartbeat status = %q, want nominal", v.Heartbeat.Status)
	}
	if v.Heartbeat.Reserve != 500 {
		t.Errorf("reserve = %v, want 500", v.Heartbeat.Reserve)
	}
	if v.Economy.TotalSpent <= 0 {
		t.Errorf("total spent = %v, want > 0 after acting", v.Economy.TotalSpent)
	}

	path := filepath.Join(t.TempDir(), "vitals.json")
	if err := f.ctrl.WriteVitals(path); err != nil {
		t.Fatalf("write vitals: %v", err)
	}
	loaded, err := ReadVitals(path)
	if err != nil {
		t.Fatalf("read vitals: %v", err)
	}
	if loaded.Heartbeat.Status != v.Heartbeat.Status || loaded.Economy.TotalValue != v.Economy.TotalValue {
		t.Errorf("round trip mismatch: wrote %+v, read %+v", v, loaded)
	}
}

func TestHealthStatusGrades(t *testing.T) {
	cases := []struct {
		name   string
		budget float64
		pain   float64
		want   string
	}{
		{"calm and funded", 100, 0, "nominal"},
		{"hurting", 100, 0.5, "strained"},
		{"burning", 100, 0.8, "critical"},
		{"broke", -1, 0, "critical"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := healthStatus(tc.budget, tc.pain); got != tc.want {
				t.Errorf("healthStatus(%v, %v) = %q, want %q", tc.budget, tc.pain, got, tc.want)
			}
		})
	}
}
