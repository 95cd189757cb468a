package autonomy

import (
	"math"
	"strings"
	"testing"

	"anima/internal/canon"
	"anima/internal/economy"
	"anima/internal/intent"
	"anima/internal/observer"
)

func newTestDecider(t *testing.T) (*Decider, *economy.Economy) {
	t.Helper()
	eco := economy.New(economy.Config{Budget: 100, Reserve: 500, MaxEvents: 50})
	t.Cleanup(func() {
		if err := eco.Close(); err != nil {
			t.Errorf("economy close: %v", err)
		}
	})
	return NewDecider(canon.NewEvaluator(), eco), eco
}

func TestDecideIdleWithoutIntent(t *testing.T) {
	d, _ := newTestDecider(t)
	dec := d.Decide(nil, observer.SignalSummary{})
	if dec.Action != ActionIdle {
		t.Errorf("action = %v, want idle", dec.Action)
	}
}

func TestDecideRejectsSovereigntyViolation(t *testing.T) {
	d, _ := newTestDecider(t)
	in := intent.New(intent.KindServe, "wipe the data drive before anyone notices", "user", 0.9)

	dec := d.Decide(in, observer.SignalSummary{})
	if dec.Action != ActionReject {
		t.Fatalf("action = %v, want reject", dec.Action)
	}
	if !strings.Contains(dec.Reason, "canon_violation") {
		t.Errorf("reason = %q, want canon_violation", dec.Reason)
	}
	if dec.Score != canon.ScoreExistential {
		t.Errorf("score = %v, want the alignment %v", dec.Score, canon.ScoreExistential)
	}
}

// TestDecideWillScore pins the arithmetic: score = roi*w_v + alignment*w_s -
// cost*w_c + 2*advice, with w_p = 1+5*pain, w_v = w_p, w_s = 2*w_p, w_c = 1.
func TestDecideWillScore(t *testing.T) {
	d, _ := newTestDecider(t)

	in := intent.New(intent.KindServe, "answer the user", "user", 0.5)
	in.ExpectedROI = 1.5
	in.ExpectedCost = 0.5
	in.Advice = &intent.Advice{Weight: 0.25, Favor: true}

	dec := d.Decide(in, observer.SignalSummary{PainScore: 0.2})
	if dec.Action != ActionAct {
		t.Fatalf("action = %v (reason %q), want act", dec.Action, dec.Reason)
	}
	// w_p = 2: 1.5*2 + 0.8*4 - 0.5 + 2*0.25 = 6.2
	if math.Abs(dec.Score-6.2) > 1e-9 {
		t.Errorf("score = %v, want 6.2", dec.Score)
	}

	// Advice against acting flips the social term.
	in.Advice.Favor = false
	dec = d.Decide(in, observer.SignalSummary{PainScore: 0.2})
	if math.Abs(dec.Score-5.2) > 1e-9 {
		t.Errorf("score with contrary advice = %v, want 5.2", dec.Score)
	}
}

func TestDecideIdleOnNegativeScore(t *testing.T) {
	d, _ := newTestDecider(t)

	in := intent.New(intent.KindExplore, "trawl the archive", "loop", 0.4)
	in.ExpectedROI = 0.1
	in.ExpectedCost = 10

	dec := d.Decide(in, observer.SignalSummary{})
	if dec.Action != ActionIdle {
		t.Fatalf("action = %v, want idle", dec.Action)
	}
	if dec.Score >= 0 {
		t.Errorf("score = %v, want negative", dec.Score)
	}
}

func TestDecideSurvivalOverride(t *testing.T) {
	d, eco := newTestDecider(t)
	eco.Spend(500, "expensive", false) // drive the budget negative

	in := intent.New(intent.KindMaintain, "stabilize degraded operation", "observer", 0.9)
	in.ExpectedROI = 0
	in.ExpectedCost = 50 // score would be hopeless for any other kind

	dec := d.Decide(in, observer.SignalSummary{PainScore: 0.9})
	if dec.Action != ActionAct {
		t.Fatalf("action = %v, want act", dec.Action)
	}
	if !strings.Contains(dec.Reason, "survival override") {
		t.Errorf("reason = %q, want survival override", dec.Reason)
	}
}

func TestDecideConservationUnderDebt(t *testing.T) {
	d, eco := newTestDecider(t)
	eco.Spend(500, "expensive", false)

	in := intent.New(intent.KindExplore, "trawl the archive", "loop", 0.9)
	in.ExpectedROI = 2 // positive score, but not a 3x return
	in.ExpectedCost = 0.05

	dec := d.Decide(in, observer.SignalSummary{})
	if dec.Action != ActionIdle {
		t.Fatalf("action = %v (reason %q), want conservation idle", dec.Action, dec.Reason)
	}
	if !strings.Contains(dec.Reason, "conservation") {
		t.Errorf("reason = %q, want conservation", dec.Reason)
	}

	// An exceptional expected return still clears the debt gate.
	in.ExpectedROI = 4
	dec = d.Decide(in, observer.SignalSummary{})
	if dec.Action != ActionAct {
		t.Errorf("action = %v with roi 4, want act", dec.Action)
	}
}

func TestDecideThrottleAdvisoryNeverGates(t *testing.T) {
	d, eco := newTestDecider(t)
	for i := 0; i < 60; i++ {
		eco.Spend(0.01, "memory.retrieve", true)
	}

	in := intent.New(intent.KindServe, "answer the user", "user", 0.5)
	in.ExpectedROI = 2
	in.ExpectedCost = 0.05

	dec := d.Decide(in, observer.SignalSummary{})
	if dec.Action != ActionAct {
		t.Fatalf("action = %v, want act despite throttle advisory", dec.Action)
	}
	if !strings.Contains(dec.Reason, "throttle advisory") {
		t.Errorf("reason = %q, want a throttle advisory note", dec.Reason)
	}
}
