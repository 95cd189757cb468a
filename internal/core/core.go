// Package core assembles the runtime: every subsystem is constructed once
// from config, wired explicitly, and supervised under a single errgroup.
// There are no singletons; tests build fresh cores.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"anima/internal/autonomy"
	"anima/internal/canon"
	"anima/internal/cml"
	"anima/internal/config"
	"anima/internal/economy"
	"anima/internal/evolution"
	"anima/internal/intent"
	"anima/internal/logging"
	"anima/internal/observer"
	"anima/internal/tools"
	"anima/internal/trust"
)

// Core owns the wired subsystems. Fields are exported so embeddings and the
// CLI can reach the pieces they need; lifecycle stays with Run and Close.
type Core struct {
	Config *config.Config

	Registry     *tools.Registry
	Orchestrator *tools.Orchestrator
	Ledger       *tools.Ledger
	Economy      *economy.Economy
	Canon        *canon.Evaluator
	Trust        *trust.Model
	Stack        *intent.Stack
	Memory       *cml.Graph
	Observer     *observer.Observer
	Evolution    *evolution.Engine
	Controller   *autonomy.Controller

	explain      *autonomy.Writer
	ledgerWriter *tools.LedgerWriter
	policyWatch  *evolution.PolicyWatcher
	archive      *cml.Archive

	closed bool
}

// New builds a core from config. State files that exist are restored;
// missing ones start their subsystem fresh.
func New(cfg *config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eco := economy.New(economy.Config{
		Budget:         cfg.Orchestrator.Budget,
		Reserve:        cfg.Orchestrator.Reserve,
		RegenPerMinute: cfg.Economy.RegenPercentMin,
		MaxEvents:      cfg.Economy.MaxEvents,
		Path:           cfg.Economy.Path,
	})
	if err := eco.Load(cfg.Economy.Path); err != nil {
		return nil, err
	}

	tm := trust.NewModel(cfg.Trust.Path)
	if err := tm.Load(); err != nil {
		return nil, err
	}

	stack := intent.NewStack(intent.StackConfig{
		HalfLife:  cfg.Intent.GetHalfLife(),
		Floor:     cfg.Intent.Floor,
		StatePath: cfg.Autonomy.StatePath,
	})
	if err := stack.Load(); err != nil {
		return nil, err
	}

	memory, err := loadMemory(cfg.Memory.SnapshotPath)
	if err != nil {
		return nil, err
	}

	policy, err := evolution.LoadPolicy(cfg.Evolution.PolicyPath)
	if err != nil {
		return nil, err
	}
	policy.MaxFiles = cfg.Evolution.MaxFiles
	policy.SimulationTimeout = cfg.Evolution.GetSimTimeout()
	policy.AutoFreezeThreshold = cfg.Evolution.AutoFreeze
	policy.MustSimulate = cfg.Evolution.MustSimulate
	if len(cfg.Evolution.ForbiddenDomains) > 0 {
		policy.ForbiddenDomains = cfg.Evolution.ForbiddenDomains
	}
	engine := evolution.NewEngine(evolution.EngineConfig{
		Policy:     policy,
		Workspace:  ".",
		ReportPath: cfg.Evolution.ReportPath,
	})

	ledger := tools.NewLedger(cfg.Orchestrator.LedgerRetention)
	ledgerWriter, err := tools.NewLedgerWriter(ledger, cfg.Orchestrator.LedgerPath)
	if err != nil {
		return nil, err
	}

	ce := canon.NewEvaluator()
	registry := tools.NewRegistry()
	orch := tools.NewOrchestrator(registry, eco, ce, ledger, tools.OrchestratorConfig{
		Workers:              cfg.Orchestrator.Workers,
		QueueDepth:           cfg.Orchestrator.QueueDepth,
		IdempotencyRetention: cfg.Orchestrator.GetIdempotencyRetention(),
	})
	if err := tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Economy:   eco,
		Memory:    memory,
		Evolution: engine,
		Prune:     orch.PruneIdempotency,
	}); err != nil {
		return nil, err
	}

	obs := observer.New(ledger, cfg.Autonomy.ObserveWindow)
	explain := autonomy.NewWriter(cfg.Autonomy.ExplainPath)
	controller := autonomy.NewController(autonomy.ControllerDeps{
		Observer:     obs,
		Orchestrator: orch,
		Stack:        stack,
		Trust:        tm,
		Canon:        ce,
		Economy:      eco,
		Memory:       memory,
		Explain:      explain,
	})

	c := &Core{
		Config:       cfg,
		Registry:     registry,
		Orchestrator: orch,
		Ledger:       ledger,
		Economy:      eco,
		Canon:        ce,
		Trust:        tm,
		Stack:        stack,
		Memory:       memory,
		Observer:     obs,
		Evolution:    engine,
		Controller:   controller,
		explain:      explain,
		ledgerWriter: ledgerWriter,
	}

	if cfg.Memory.ArchivePath != "" {
		archive, err := cml.NewArchive(cfg.Memory.ArchivePath)
		if err != nil {
			return nil, err
		}
		c.archive = archive
	}

	logging.Boot("core assembled: %d tool(s), budget %.0f/%.0f, %d intent(s) restored",
		registry.Count(), eco.Budget(), cfg.Orchestrator.Reserve, stack.Len())
	return c, nil
}

// loadMemory restores the causal graph from its snapshot, or starts empty.
func loadMemory(path string) (*cml.Graph, error) {
	if path == "" {
		return cml.NewGraph(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cml.NewGraph(), nil
		}
		return nil, fmt.Errorf("stat memory snapshot: %w", err)
	}
	g, err := cml.LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	logging.Memory("restored %d node(s) from %s", g.Len(), path)
	return g, nil
}

// Run starts the workers and background loops and blocks until ctx is
// cancelled or a loop fails. A cancelled context is a clean shutdown.
func (c *Core) Run(ctx context.Context) error {
	c.Orchestrator.Start(c.Config.Orchestrator.Workers)

	if c.Config.Evolution.PolicyPath != "" {
		watcher, err := evolution.NewPolicyWatcher(c.Config.Evolution.PolicyPath, c.Evolution)
		if err != nil {
			logging.EvolutionWarn("policy watcher unavailable: %v", err)
		} else if err := watcher.Start(ctx); err != nil {
			logging.EvolutionWarn("policy watcher start: %v", err)
		} else {
			c.policyWatch = watcher
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.runLoop(ctx) })
	g.Go(func() error { return c.runVitals(ctx) })
	g.Go(func() error { return c.runSnapshots(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runLoop drives the autonomy cycle. One cycle runs immediately so a fresh
// boot does not sit dark for a whole interval.
func (c *Core) runLoop(ctx context.Context) error {
	interval := c.Config.Autonomy.GetCycleInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.cycle(ctx)
		}
	}
}

// cycle runs one pass. A failed cycle is logged, never fatal: the loop is
// the thing being kept alive.
func (c *Core) cycle(ctx context.Context) {
	rec, err := c.Controller.Cycle(ctx)
	if err != nil {
		logging.AutonomyWarn("cycle failed: %v", err)
		c.Observer.ReportPressure(observer.PressureMemory)
		return
	}
	logging.AutonomyDebug("cycle complete: %s (%s)", rec.Decision.Action, rec.Decision.Reason)
}

// runVitals refreshes the vitals file on its own heartbeat.
func (c *Core) runVitals(ctx context.Context) error {
	path := c.Config.Autonomy.VitalsPath
	if path == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(c.Config.Autonomy.GetVitalsInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.Controller.WriteVitals(path); err != nil {
				logging.AutonomyWarn("final vitals write: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := c.Controller.WriteVitals(path); err != nil {
				logging.AutonomyWarn("vitals write: %v", err)
			}
		}
	}
}

// runSnapshots persists the causal graph periodically and once on the way
// out.
func (c *Core) runSnapshots(ctx context.Context) error {
	path := c.Config.Memory.SnapshotPath
	if path == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(c.Config.Memory.GetSnapshotInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.Memory.SnapshotTo(path); err != nil {
				logging.MemoryWarn("final memory snapshot: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := c.Memory.SnapshotTo(path); err != nil {
				logging.MemoryWarn("memory snapshot: %v", err)
			}
		}
	}
}

// Close releases every subsystem in dependency order. Safe to call after a
// finished Run; not safe concurrently with one.
func (c *Core) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	collect := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.policyWatch != nil {
		c.policyWatch.Stop()
	}
	c.Orchestrator.Stop()
	collect("explain", c.explain.Close())
	collect("ledger writer", c.ledgerWriter.Close())

	if path := c.Config.Memory.SnapshotPath; path != "" {
		collect("memory snapshot", c.Memory.SnapshotTo(path))
	}
	if c.archive != nil {
		collect("memory archive", c.archive.Store(c.Memory.Export()))
		collect("archive close", c.archive.Close())
	}

	collect("stack", c.Stack.Close())
	collect("trust", c.Trust.Close())
	collect("economy", c.Economy.Close())

	logging.Boot("core closed")
	return errors.Join(errs...)
}
