package autonomy

import (
	"fmt"
	"time"

	"anima/internal/canon"
	"anima/internal/economy"
	"anima/internal/intent"
	"anima/internal/logging"
	"anima/internal/observer"
	"anima/internal/tools"
	"anima/internal/trust"
)

// actTool maps an intent kind onto the built-in capability serving it.
type actTool struct {
	name   string
	domain string
	cost   float64
	risk   tools.RiskLevel
}

func toolFor(kind intent.Kind) actTool {
	switch kind {
	case intent.KindServe:
		return actTool{"memory.retrieve", "memory", 0.05, tools.RiskLow}
	case intent.KindExplore:
		return actTool{"memory.search_patterns", "memory", 0.05, tools.RiskLow}
	case intent.KindLearn:
		return actTool{"evolution.propose_mutation", "evolution", 1.0, tools.RiskMedium}
	default:
		return actTool{"maintainer.tick", "maintenance", 0.01, tools.RiskLow}
	}
}

// Refusal is an intent dropped by a planning gate. The gate names who said
// no; the threat class tells the controller how hard to punish the source.
type Refusal struct {
	Intent *intent.Intent    `json:"intent"`
	Gate   string            `json:"gate"` // "trust" or "canon"
	Reason string            `json:"reason"`
	Threat canon.ThreatClass `json:"threat"`
}

// Plan is the outcome of one planning pass.
type Plan struct {
	Intent   *intent.Intent // top surviving intent, nil when none
	Refusals []Refusal
	Expired  []*intent.Intent
}

// Planner grooms the intent stack: decay, trust gate, canon gate, ROI
// annotation, and pressure-driven injection.
type Planner struct {
	stack *intent.Stack
	trust *trust.Model
	canon *canon.Evaluator
	eco   *economy.Economy

	nowFn func() time.Time
}

// NewPlanner builds a planner over the shared stack and gates.
func NewPlanner(stack *intent.Stack, tm *trust.Model, ce *canon.Evaluator, eco *economy.Economy) *Planner {
	return &Planner{
		stack: stack,
		trust: tm,
		canon: ce,
		eco:   eco,
		nowFn: time.Now,
	}
}

// Plan runs one planning pass and returns the top intent, the refusals
// made on the way, and the intents that decayed out. A cycle that refused
// something is not idle: the explore reflex only fires on genuinely empty,
// calm cycles.
func (p *Planner) Plan(sig observer.SignalSummary) Plan {
	plan := Plan{Expired: p.stack.Decay(p.nowFn())}

	for _, in := range p.stack.Items() {
		if !p.trust.Verify(in.Source) {
			in.Status = intent.StatusRefused
			p.stack.Remove(in.ID)
			plan.Refusals = append(plan.Refusals, Refusal{
				Intent: in,
				Gate:   "trust",
				Reason: fmt.Sprintf("trust_rejected: source %q scores %.2f, verification needs %.2f", in.Source, p.trust.Get(in.Source), trust.VerifyThreshold),
			})
			logging.Autonomy("plan: refused intent %s from untrusted source %q", in.ID, in.Source)
			continue
		}

		ev := p.canon.EvaluateIntent(in)
		if ev.Sovereign {
			in.Status = intent.StatusRefused
			p.stack.Remove(in.ID)
			reason := fmt.Sprintf("canon_violation: %s threat, alignment %.2f", ev.Threat, ev.Score)
			if ev.Rule != "" {
				reason += fmt.Sprintf(" (rule %s)", ev.Rule)
			}
			plan.Refusals = append(plan.Refusals, Refusal{
				Intent: in,
				Gate:   "canon",
				Reason: reason,
				Threat: ev.Threat,
			})
			logging.Autonomy("plan: refused intent %s: %s", in.ID, reason)
			continue
		}

		p.annotate(in)
	}

	if sig.PainScore > 0.3 && !p.stack.HasKind(intent.KindMaintain) {
		priority := sig.PainScore + 0.2
		if priority > 1 {
			priority = 1
		}
		in := intent.New(intent.KindMaintain, "stabilize degraded operation", "observer", priority)
		p.annotate(in)
		p.stack.Add(in)
		logging.Autonomy("plan: injected maintain intent at priority %.2f (pain %.2f)", priority, sig.PainScore)
	}

	if p.stack.Len() == 0 && len(plan.Refusals) == 0 && sig.PainScore < 0.1 {
		in := intent.New(intent.KindExplore, "mine past experience for recurring patterns", "loop", 0.4)
		p.annotate(in)
		p.stack.Add(in)
		logging.AutonomyDebug("plan: idle and calm, injected explore intent")
	}

	plan.Intent = p.stack.Top()
	return plan
}

// annotate fills the economic fields the decider weighs: expected ROI from
// the serving tool's stats and the tool's own cost estimate when the intent
// does not carry one.
func (p *Planner) annotate(in *intent.Intent) {
	tool := toolFor(in.Kind)
	in.ExpectedROI = p.eco.ExpectedROI(tool.name)
	if in.ExpectedCost == 0 {
		in.ExpectedCost = tool.cost
	}
}
