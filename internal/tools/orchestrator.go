package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"anima/internal/canon"
	"anima/internal/economy"
	"anima/internal/intent"
	"anima/internal/logging"
)

// =============================================================================
// ORCHESTRATOR - THE SOLE EXECUTION PATH
// =============================================================================
//
// Every action the runtime takes goes through Invoke. The orchestrator
// validates, replays idempotent calls, estimates cost, enforces deadlines,
// runs the canon check for human-originated envelopes, executes with panic
// capture, and records the execution in the economy and the action ledger.
//
// The orchestrator never refuses an invocation for lack of budget and never
// retries on its own; failures come back as Result values with a retryable
// flag for the caller to act on.

// OrchestratorConfig configures the invocation path.
type OrchestratorConfig struct {
	// Workers is the number of goroutines consuming the async queue.
	Workers int

	// QueueDepth bounds the async queue. When full, envelopes without an
	// explicit priority are rejected with OVERLOADED.
	QueueDepth int

	// IdempotencyRetention is how long cached results answer replays.
	IdempotencyRetention time.Duration
}

// DefaultOrchestratorConfig returns sensible defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Workers:              4,
		QueueDepth:           64,
		IdempotencyRetention: DefaultIdempotencyRetention,
	}
}

// Orchestrator owns the registry lookup, the accounting side effects, and
// the async worker pool.
type Orchestrator struct {
	registry *Registry
	eco      *economy.Economy
	canon    *canon.Evaluator
	ledger   *Ledger
	idem     *idempotencyCache

	queue chan queuedInvocation
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

type queuedInvocation struct {
	ctx context.Context
	env *Envelope
	out chan Result
}

// NewOrchestrator wires the invocation path. The canon evaluator may be nil
// when no sovereignty gating is wanted (tests mostly).
func NewOrchestrator(reg *Registry, eco *economy.Economy, ce *canon.Evaluator, ledger *Ledger, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &Orchestrator{
		registry: reg,
		eco:      eco,
		canon:    ce,
		ledger:   ledger,
		idem:     newIdempotencyCache(cfg.IdempotencyRetention),
		queue:    make(chan queuedInvocation, cfg.QueueDepth),
		stop:     make(chan struct{}),
	}
}

// Start launches cfg.Workers queue consumers. Callers that only use the
// synchronous Invoke path never need to Start.
func (o *Orchestrator) Start(workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	logging.Tools("Orchestrator started (workers=%d, queue=%d)", workers, cap(o.queue))
}

// Stop shuts down the worker pool. In-flight executions finish and are
// recorded; queued-but-unstarted invocations are rejected as OVERLOADED.
func (o *Orchestrator) Stop() {
	o.once.Do(func() { close(o.stop) })
	o.wg.Wait()
	for {
		select {
		case qi := <-o.queue:
			qi.out <- Failure(ErrCodeOverloaded, "orchestrator stopped before execution")
		default:
			return
		}
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stop:
			return
		case qi := <-o.queue:
			qi.out <- o.Invoke(qi.ctx, qi.env)
		}
	}
}

// InvokeAsync submits the envelope to the worker queue and returns a
// channel that yields exactly one Result. If the queue is saturated,
// envelopes without an explicit priority are rejected immediately with
// OVERLOADED; prioritized envelopes wait for a slot.
func (o *Orchestrator) InvokeAsync(ctx context.Context, env *Envelope) <-chan Result {
	out := make(chan Result, 1)
	if env == nil {
		out <- Failure(ErrCodeInvalidRequest, "nil envelope")
		return out
	}
	qi := queuedInvocation{ctx: ctx, env: env, out: out}

	if env.Priority != nil {
		select {
		case o.queue <- qi:
		case <-o.stop:
			out <- Failure(ErrCodeOverloaded, "orchestrator is shutting down")
		case <-ctx.Done():
			out <- Failure(ErrCodeTimeout, "cancelled while waiting for a queue slot")
		}
		return out
	}

	select {
	case o.queue <- qi:
	default:
		logging.ToolsWarn("queue saturated (depth=%d), rejecting %s", cap(o.queue), env.ToolName)
		out <- Failure(ErrCodeOverloaded, "queue depth %d exceeded", cap(o.queue))
	}
	return out
}

// QueueLen reports how many invocations are waiting for a worker.
func (o *Orchestrator) QueueLen() int {
	return len(o.queue)
}

// Budget returns the current economy snapshot.
func (o *Orchestrator) Budget() economy.Snapshot {
	return o.eco.Snapshot()
}

// Ledger exposes the action ledger for observers.
func (o *Orchestrator) Ledger() *Ledger {
	return o.ledger
}

// PruneIdempotency drops expired cached results and returns the count.
func (o *Orchestrator) PruneIdempotency() int {
	return o.idem.prune()
}

// internalCallers are origins that have already been through intent-level
// gating; their envelopes skip the canon re-check.
var internalCallers = map[string]bool{
	"":             true,
	"core":         true,
	"autonomy":     true,
	"orchestrator": true,
	"system":       true,
}

// Invoke executes one envelope synchronously.
//
// Order of operations: validate, idempotency replay, cost estimate,
// deadline install, canon check, execute, accounting, cache. Rejections
// before execution charge nothing and leave no ledger record.
func (o *Orchestrator) Invoke(ctx context.Context, env *Envelope) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	if env == nil {
		return Failure(ErrCodeInvalidRequest, "nil envelope")
	}
	if err := env.Validate(); err != nil {
		return Failure(ErrCodeInvalidRequest, "invalid envelope: %v", err)
	}
	reg := o.registry.Get(env.ToolName)
	if reg == nil {
		return Failure(ErrCodeInvalidRequest, "unknown tool %q", env.ToolName)
	}

	if env.IdempotencyKey != "" {
		if cached, ok := o.idem.lookup(env.ToolName, env.IdempotencyKey); ok {
			logging.ToolsDebug("Replaying %s for idempotency key %s", env.ToolName, env.IdempotencyKey)
			return cached
		}
	}

	est := env.EstimatedCost
	if c := reg.Capability.EstimateCost(env); c > est {
		est = c
	}

	if env.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(env.DeadlineMS)*time.Millisecond)
		defer cancel()
	}

	// Envelopes from human or user callers get the sovereignty check;
	// internal callers were gated when their intent was planned.
	caller := env.Caller
	if caller == "" {
		caller = env.Context["source"]
	}
	if o.canon != nil && !internalCallers[caller] {
		ev := o.canon.Evaluate(intent.KindServe, env.Action, env.Context)
		if ev.Sovereign {
			logging.Canon("Refused %s from %s: %s (rule=%s)", env.ToolName, caller, ev.Threat, ev.Rule)
			return Failure(ErrCodeCanonViolation, "action violates canon: %s (rule %s)", ev.Threat, ev.Rule)
		}
	}

	started := time.Now()
	result := o.execute(ctx, reg.Capability, env)
	finished := time.Now()

	status := StatusCompleted
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result = Failure(ErrCodeTimeout, "deadline of %dms expired for %s", env.DeadlineMS, env.ToolName)
		status = StatusTimedOut
	case errors.Is(ctx.Err(), context.Canceled):
		result = Failure(ErrCodeTimeout, "invocation of %s cancelled", env.ToolName)
		status = StatusCancelled
	case !result.Success:
		status = StatusFailed
	}

	cost := result.CostSpent
	if cost <= 0 {
		cost = est
		result.CostSpent = cost
	}
	o.eco.Spend(cost, env.ToolName, !result.Success)

	o.ledger.Append(Record{
		EnvelopeDigest: env.Digest(),
		Tool:           env.ToolName,
		Action:         env.Action,
		Status:         status,
		CostSpent:      cost,
		DurationMS:     finished.Sub(started).Milliseconds(),
		StartedAt:      started,
		FinishedAt:     finished,
	})
	logging.ToolsDebug("Invoked %s (status=%s, cost=%.4f, took=%v)", env.ToolName, status, cost, finished.Sub(started))

	if env.IdempotencyKey != "" {
		o.idem.store(env.ToolName, env.IdempotencyKey, result)
	}
	return result
}

// execute runs the capability with panic capture. A panicking tool becomes
// a TOOL_CRASH result instead of taking the worker down.
func (o *Orchestrator) execute(ctx context.Context, capability Capability, env *Envelope) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.ToolsError("Tool %s panicked: %v", env.ToolName, r)
			res = Failure(ErrCodeToolCrash, "tool %s panicked: %v", env.ToolName, r)
		}
	}()
	return capability.Execute(ctx, env)
}
