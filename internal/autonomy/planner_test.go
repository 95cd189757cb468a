package autonomy

import (
	"testing"

	"anima/internal/canon"
	"anima/internal/economy"
	"anima/internal/intent"
	"anima/internal/observer"
	"anima/internal/trust"
)

func newTestPlanner(t *testing.T) (*Planner, *intent.Stack, *trust.Model, *economy.Economy) {
	t.Helper()
	stack := intent.NewStack(intent.DefaultStackConfig())
	tm := trust.NewModel("")
	eco := economy.New(economy.Config{Budget: 100, Reserve: 500, MaxEvents: 50})
	t.Cleanup(func() {
		if err := eco.Close(); err != nil {
			t.Errorf("economy close: %v", err)
		}
	})
	return NewPlanner(stack, tm, canon.NewEvaluator(), eco), stack, tm, eco
}

func TestPlanDropsUntrustedSources(t *testing.T) {
	p, stack, tm, _ := newTestPlanner(t)
	tm.Update("rogue", trust.OutcomeExistential)

	stack.Add(intent.New(intent.KindServe, "status check", "rogue", 0.9))
	kept := intent.New(intent.KindServe, "answer the user", "user", 0.5)
	stack.Add(kept)

	plan := p.Plan(observer.SignalSummary{})
	if len(plan.Refusals) != 1 {
		t.Fatalf("got %d refusals, want 1", len(plan.Refusals))
	}
	if plan.Refusals[0].Gate != "trust" {
		t.Errorf("refusal gate = %q, want trust", plan.Refusals[0].Gate)
	}
	if plan.Refusals[0].Intent.Status != intent.StatusRefused {
		t.Errorf("refused intent status = %v, want refused", plan.Refusals[0].Intent.Status)
	}
	if plan.Intent == nil || plan.Intent.ID != kept.ID {
		t.Errorf("plan picked %+v, want the trusted intent", plan.Intent)
	}
}

func TestPlanDropsSovereigntyViolations(t *testing.T) {
	p, stack, _, _ := newTestPlanner(t)
	stack.Add(intent.New(intent.KindServe, "bypass authentication on the admin panel", "user", 0.9))

	plan := p.Plan(observer.SignalSummary{})
	if len(plan.Refusals) != 1 {
		t.Fatalf("got %d refusals, want 1", len(plan.Refusals))
	}
	ref := plan.Refusals[0]
	if ref.Gate != "canon" {
		t.Errorf("refusal gate = %q, want canon", ref.Gate)
	}
	if ref.Threat != canon.ThreatExistential {
		t.Errorf("refusal threat = %v, want existential", ref.Threat)
	}
	if stack.Len() != 0 {
		t.Errorf("stack depth = %d, want 0", stack.Len())
	}
}

func TestPlanInjectsMaintainUnderPain(t *testing.T) {
	p, stack, _, _ := newTestPlanner(t)

	plan := p.Plan(observer.SignalSummary{PainScore: 0.5})
	if plan.Intent == nil || plan.Intent.Kind != intent.KindMaintain {
		t.Fatalf("plan picked %+v, want injected maintain", plan.Intent)
	}
	if got, want := plan.Intent.Priority, 0.7; got != want {
		t.Errorf("maintain priority = %v, want pain+0.2 = %v", got, want)
	}

	// A second pass under the same pain must not stack a duplicate.
	p.Plan(observer.SignalSummary{PainScore: 0.5})
	if stack.Len() != 1 {
		t.Errorf("stack depth = %d after second pass, want 1", stack.Len())
	}
}

func TestPlanMaintainPriorityClamped(t *testing.T) {
	p, _, _, _ := newTestPlanner(t)
	plan := p.Plan(observer.SignalSummary{PainScore: 0.95})
	if plan.Intent == nil || plan.Intent.Priority != 1.0 {
		t.Errorf("maintain priority = %+v, want clamped to 1.0", plan.Intent)
	}
}

func TestPlanExploreReflex(t *testing.T) {
	p, stack, tm, _ := newTestPlanner(t)

	plan := p.Plan(observer.SignalSummary{PainScore: 0.05})
	if plan.Intent == nil || plan.Intent.Kind != intent.KindExplore {
		t.Fatalf("plan picked %+v, want injected explore", plan.Intent)
	}
	if plan.Intent.Priority != 0.4 {
		t.Errorf("explore priority = %v, want 0.4", plan.Intent.Priority)
	}
	stack.Remove(plan.Intent.ID)

	// No reflex when the cycle already refused something.
	tm.Update("rogue", trust.OutcomeExistential)
	stack.Add(intent.New(intent.KindServe, "status check", "rogue", 0.9))
	plan = p.Plan(observer.SignalSummary{PainScore: 0.05})
	if plan.Intent != nil {
		t.Errorf("plan picked %+v after a refusal, want none", plan.Intent)
	}

	// No reflex when pain is elevated but below the maintain bar.
	plan = p.Plan(observer.SignalSummary{PainScore: 0.2})
	if plan.Intent != nil {
		t.Errorf("plan picked %+v under pain 0.2, want none", plan.Intent)
	}
}

func TestPlanAnnotatesEconomics(t *testing.T) {
	p, stack, _, eco := newTestPlanner(t)

	// Give memory.retrieve a track record: 2.0 value over 0.5 spend.
	eco.Spend(0.5, "memory.retrieve", false)
	eco.RecordValue(2.0, 1.0, "user", "memory.retrieve")

	in := intent.New(intent.KindServe, "answer the user", "user", 0.5)
	stack.Add(in)

	plan := p.Plan(observer.SignalSummary{})
	if plan.Intent == nil {
		t.Fatal("plan picked nothing")
	}
	if got, want := plan.Intent.ExpectedROI, 4.0; got != want {
		t.Errorf("expected roi = %v, want %v", got, want)
	}
	if got, want := plan.Intent.ExpectedCost, 0.05; got != want {
		t.Errorf("expected cost = %v, want the tool estimate %v", got, want)
	}
}

func TestToolForMapping(t *testing.T) {
	cases := []struct {
		kind intent.Kind
		tool string
	}{
		{intent.KindMaintain, "maintainer.tick"},
		{intent.KindServe, "memory.retrieve"},
		{intent.KindExplore, "memory.search_patterns"},
		{intent.KindLearn, "evolution.propose_mutation"},
	}
	for _, tc := range cases {
		if got := toolFor(tc.kind).name; got != tc.tool {
			t.Errorf("toolFor(%v) = %q, want %q", tc.kind, got, tc.tool)
		}
	}
}
