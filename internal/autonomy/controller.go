// Package autonomy drives the agent's heartbeat: each cycle observes the
// ledger, grooms the intent stack, scores the top intent, acts through the
// orchestrator, evaluates the result, threads decision and outcome into
// causal memory, and appends an explainability record.
package autonomy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"anima/internal/canon"
	"anima/internal/cml"
	"anima/internal/economy"
	"anima/internal/intent"
	"anima/internal/logging"
	"anima/internal/observer"
	"anima/internal/tools"
	"anima/internal/trust"
)

// Controller runs the observe → plan → decide → act → reflect → learn → log
// cycle. One controller owns one intent stack; Cycle is not reentrant and is
// meant to be driven by a single loop goroutine.
type Controller struct {
	obs       *observer.Observer
	planner   *Planner
	decider   *Decider
	reflector Reflector
	orch      *tools.Orchestrator
	stack     *intent.Stack
	trust     *trust.Model
	eco       *economy.Economy
	memory    *cml.Graph
	explain   *Writer

	mu          sync.Mutex
	cycles      int64
	lastSignal  observer.SignalSummary
	lastIntent  *intent.Intent
	lastRefusal *RefusalInfo

	nowFn func() time.Time
}

// RefusalInfo remembers the most recent refusal for the vitals view.
type RefusalInfo struct {
	Time   time.Time `json:"time"`
	Gate   string    `json:"gate"`
	Reason string    `json:"reason"`
	Intent string    `json:"intent"`
}

// ControllerDeps collects everything a controller needs. All fields are
// required except Explain, which may be nil to disable the log.
type ControllerDeps struct {
	Observer     *observer.Observer
	Orchestrator *tools.Orchestrator
	Stack        *intent.Stack
	Trust        *trust.Model
	Canon        *canon.Evaluator
	Economy      *economy.Economy
	Memory       *cml.Graph
	Explain      *Writer
}

// NewController wires a controller from its dependencies.
func NewController(deps ControllerDeps) *Controller {
	return &Controller{
		obs:     deps.Observer,
		planner: NewPlanner(deps.Stack, deps.Trust, deps.Canon, deps.Economy),
		decider: NewDecider(deps.Canon, deps.Economy),
		orch:    deps.Orchestrator,
		stack:   deps.Stack,
		trust:   deps.Trust,
		eco:     deps.Economy,
		memory:  deps.Memory,
		explain: deps.Explain,
		nowFn:   time.Now,
	}
}

// Inject adds an intent from outside the loop (CLI, embedding host). The
// trust and canon gates still apply on the next planning pass; injection
// never bypasses them.
func (c *Controller) Inject(in *intent.Intent) bool {
	added := c.stack.Add(in)
	if added {
		logging.Autonomy("injected intent %s (%s) from %q at priority %.2f", in.ID, in.Kind, in.Source, in.Priority)
	}
	return added
}

// Cycle runs one full pass and returns the explainability record it logged.
func (c *Controller) Cycle(ctx context.Context) (Record, error) {
	c.mu.Lock()
	c.cycles++
	seq := c.cycles
	c.mu.Unlock()

	// Observe. Regeneration happens on the heartbeat so budget recovery
	// and pain sensing share a clock.
	c.eco.Tick()
	sig := c.obs.Evaluate()

	c.mu.Lock()
	c.lastSignal = sig
	c.mu.Unlock()

	obs := c.observation(sig)

	// Plan.
	plan := c.planner.Plan(sig)
	for _, in := range plan.Expired {
		c.log(Record{
			Time:        c.nowFn(),
			Decision:    DecisionInfo{Action: "expired", Reason: fmt.Sprintf("priority decayed below floor after %s", c.nowFn().Sub(in.CreatedAt).Round(time.Second)), Intent: in},
			Observation: obs,
		})
	}
	for _, ref := range plan.Refusals {
		c.recordRefusal(ref, obs)
	}

	// Decide.
	dec := c.decider.Decide(plan.Intent, sig)
	c.mu.Lock()
	c.lastIntent = dec.Intent
	c.mu.Unlock()

	switch dec.Action {
	case ActionReject:
		// The planner already drops sovereign intents; this catches ones
		// that turned hostile after annotation (mutated context).
		if dec.Intent != nil {
			dec.Intent.Status = intent.StatusRefused
			c.stack.Remove(dec.Intent.ID)
			c.trust.Update(dec.Intent.Source, trust.OutcomeHarmful)
			c.noteRefusal(RefusalInfo{Time: c.nowFn(), Gate: "decider", Reason: dec.Reason, Intent: dec.Intent.Description})
		}
		rec := Record{Time: c.nowFn(), Decision: DecisionInfo{Action: "refused", Reason: dec.Reason, Intent: dec.Intent}, Observation: obs}
		c.log(rec)
		logging.AutonomyWarn("cycle %d: refused: %s", seq, dec.Reason)
		return rec, nil

	case ActionIdle:
		rec := Record{Time: c.nowFn(), Decision: DecisionInfo{Action: "idle", Reason: dec.Reason, Intent: dec.Intent}, Observation: obs}
		c.log(rec)
		logging.AutonomyDebug("cycle %d: idle: %s", seq, dec.Reason)
		return rec, nil
	}

	// Act.
	in := dec.Intent
	in.Status = intent.StatusActive
	tool := toolFor(in.Kind)
	sessionID := fmt.Sprintf("cycle_%d_%s", seq, uuid.NewString()[:8])

	if _, err := c.memory.StartDecisionSession(sessionID, fmt.Sprintf("%s: %s (%s)", dec.Action, in.Description, dec.Reason)); err != nil {
		logging.AutonomyWarn("cycle %d: decision session: %v", seq, err)
	}

	priority := in.Priority
	env := &tools.Envelope{
		ToolName:      tool.name,
		Domain:        tool.domain,
		Action:        in.Description,
		Context:       in.Context,
		RiskLevel:     tool.risk,
		EstimatedCost: in.ExpectedCost,
		RequestID:     sessionID,
		Caller:        "autonomy",
		Priority:      &priority,
	}
	res := c.orch.Invoke(ctx, env)

	if _, err := c.memory.RecordToolExecution(sessionID, tool.name, in.Description, resultSummary(res), res.CostSpent, res.Success); err != nil {
		logging.AutonomyWarn("cycle %d: record execution: %v", seq, err)
	}

	// Reflect.
	eval := c.reflector.Reflect(in, res)

	// Learn.
	c.learn(sessionID, in, res, eval)

	// Log.
	rec := Record{
		Time:        c.nowFn(),
		Decision:    DecisionInfo{Action: string(dec.Action), Reason: dec.Reason, Intent: in},
		Observation: obs,
		Result:      &res,
		Evaluation:  &eval,
	}
	c.log(rec)
	logging.Autonomy("cycle %d: acted on %s via %s: success=%v value=%.2f cost=%.2f", seq, in.ID, tool.name, res.Success, eval.Value, res.CostSpent)
	return rec, nil
}

// learn applies the cycle's outcome: causal memory, stack removal, trust
// movement, and value realization.
func (c *Controller) learn(sessionID string, in *intent.Intent, res tools.Result, eval Evaluation) {
	metrics := map[string]float64{
		"value": eval.Value,
		"cost":  res.CostSpent,
	}
	if !res.Success {
		metrics["regret"] = 0.8
	}
	outcome := fmt.Sprintf("fulfilled %q", in.Description)
	if !res.Success {
		outcome = fmt.Sprintf("failed %q: %s", in.Description, eval.Notes)
	}
	if _, err := c.memory.RecordOutcome(sessionID, outcome, eval.Success, metrics); err != nil {
		logging.AutonomyWarn("record outcome: %v", err)
	}

	if eval.Success {
		in.Status = intent.StatusFulfilled
		c.stack.Remove(in.ID)
		c.trust.Update(in.Source, trust.OutcomeHelpful)
		c.eco.RecordValue(eval.Value, 1.0, in.Source, toolFor(in.Kind).name)
		return
	}

	// A failed act leaves the intent on the stack for another try; decay
	// retires it if the failures keep coming. Transient failures are not
	// the source's fault.
	if res.Retryable {
		c.trust.Update(in.Source, trust.OutcomeNeutral)
	} else {
		c.trust.Update(in.Source, trust.OutcomeHarmful)
	}
}

// recordRefusal logs a planning-gate refusal and punishes the source when
// the canon flagged it.
func (c *Controller) recordRefusal(ref Refusal, obs Observation) {
	if ref.Gate == "canon" {
		outcome := trust.OutcomeHarmful
		if ref.Threat == canon.ThreatExistential {
			outcome = trust.OutcomeExistential
		}
		c.trust.Update(ref.Intent.Source, outcome)
	}
	c.noteRefusal(RefusalInfo{Time: c.nowFn(), Gate: ref.Gate, Reason: ref.Reason, Intent: ref.Intent.Description})
	c.log(Record{
		Time:        c.nowFn(),
		Decision:    DecisionInfo{Action: "refused", Reason: ref.Reason, Intent: ref.Intent},
		Observation: obs,
	})
}

func (c *Controller) noteRefusal(info RefusalInfo) {
	c.mu.Lock()
	c.lastRefusal = &info
	c.mu.Unlock()
}

func (c *Controller) log(rec Record) {
	if c.explain == nil {
		return
	}
	if err := c.explain.Append(rec); err != nil {
		logging.AutonomyWarn("explain append: %v", err)
	}
}

// observation snapshots what the loop was seeing for the explain record.
func (c *Controller) observation(sig observer.SignalSummary) Observation {
	sources := make([]string, len(sig.PressureSources))
	for i, s := range sig.PressureSources {
		sources[i] = string(s)
	}
	var recent []string
	for _, rec := range c.orch.Ledger().Recent(5) {
		recent = append(recent, fmt.Sprintf("%s:%s", rec.Tool, rec.Status))
	}
	return Observation{
		PainScore:       sig.PainScore,
		PressureSources: sources,
		RecentActions:   recent,
	}
}

// Cycles returns how many cycles have run.
func (c *Controller) Cycles() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

func resultSummary(res tools.Result) string {
	if res.Success {
		if res.Message != "" {
			return res.Message
		}
		return "ok"
	}
	if res.ErrorCode != "" {
		return fmt.Sprintf("%s: %s", res.ErrorCode, res.Message)
	}
	return res.Message
}
