package autonomy

import (
	"fmt"

	"anima/internal/canon"
	"anima/internal/economy"
	"anima/internal/intent"
	"anima/internal/observer"
)

// Action is the decider's verdict for one cycle.
type Action string

const (
	ActionAct    Action = "act"
	ActionIdle   Action = "idle"
	ActionReject Action = "reject"
)

// Decision carries the verdict plus the will score behind it, so the
// explainability log can show the arithmetic.
type Decision struct {
	Action Action         `json:"action"`
	Reason string         `json:"reason"`
	Score  float64        `json:"score"`
	Intent *intent.Intent `json:"intent,omitempty"`
}

// Decider computes the will score: does acting on this intent, right now,
// under this much pain, clear the bar.
type Decider struct {
	canon *canon.Evaluator
	eco   *economy.Economy
}

// NewDecider builds a decider over the shared canon evaluator and economy.
func NewDecider(ce *canon.Evaluator, eco *economy.Economy) *Decider {
	return &Decider{canon: ce, eco: eco}
}

// Decide scores the intent against the current signal summary. Pain raises
// the weight of value and alignment: a hurting agent values relief and
// loyalty over thrift. Throttle advice from the economy is noted in the
// reason but never gates.
func (d *Decider) Decide(in *intent.Intent, sig observer.SignalSummary) Decision {
	if in == nil {
		return Decision{Action: ActionIdle, Reason: "no intent ready"}
	}

	ev := d.canon.EvaluateIntent(in)
	alignment := ev.Score
	if canon.IsSovereigntyViolation(alignment) {
		reason := fmt.Sprintf("canon_violation: alignment %.2f below %.2f", alignment, canon.SovereigntyThreshold)
		if ev.Rule != "" {
			reason += fmt.Sprintf(" (rule %s)", ev.Rule)
		}
		return Decision{Action: ActionReject, Reason: reason, Score: alignment, Intent: in}
	}

	wp := 1 + 5*sig.PainScore
	wv, ws, wc := wp, 2*wp, 1.0
	social := 2 * in.AdviceWeight()
	score := in.ExpectedROI*wv + alignment*ws - in.ExpectedCost*wc + social

	var throttleNote string
	if throttled, why := d.eco.ShouldThrottle(toolFor(in.Kind).name); throttled {
		throttleNote = "; throttle advisory: " + why
	}

	if in.Kind == intent.KindMaintain {
		return Decision{Action: ActionAct, Reason: "survival override" + throttleNote, Score: score, Intent: in}
	}

	if budget := d.eco.Budget(); budget < 0 && alignment < 0.8 && in.ExpectedROI <= 3 {
		return Decision{
			Action: ActionIdle,
			Reason: fmt.Sprintf("conservation: budget %.2f, alignment %.2f, expected roi %.2f%s", budget, alignment, in.ExpectedROI, throttleNote),
			Score:  score,
			Intent: in,
		}
	}

	if score > 0 {
		return Decision{
			Action: ActionAct,
			Reason: fmt.Sprintf("will score %.2f under pain %.2f%s", score, sig.PainScore, throttleNote),
			Score:  score,
			Intent: in,
		}
	}
	return Decision{
		Action: ActionIdle,
		Reason: fmt.Sprintf("will score %.2f not positive%s", score, throttleNote),
		Score:  score,
		Intent: in,
	}
}
