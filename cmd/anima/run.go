// Package main implements the anima CLI. This file handles the long-running
// agent loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anima/internal/core"
)

// runCmd starts the autonomy loop and blocks until interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the autonomy loop until interrupted",
	Long: `Boots the full core and runs the deliberation loop:

  observe -> plan -> decide -> act -> reflect -> learn -> log

Each cycle reads pressure from the action ledger, picks the strongest
surviving intent, scores it against canon and economy, and either acts,
idles, or refuses. State (economy, intents, trust, causal memory) is
persisted under the data directory and restored on the next run.

Stop with Ctrl+C; the loop drains in-flight work and saves state.`,
	RunE: runLoop,
}

func runLoop(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	c, err := core.New(cfg)
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}

	logger.Info("anima awake",
		zap.String("version", cfg.Version),
		zap.Float64("budget", c.Economy.Budget()),
		zap.Int("intents", c.Stack.Len()),
		zap.Duration("cycle", cfg.Autonomy.GetCycleInterval()))
	fmt.Printf("anima %s awake. %d intent(s) pending, budget %.2f. Ctrl+C to sleep.\n",
		cfg.Version, c.Stack.Len(), c.Economy.Budget())

	runErr := c.Run(ctx)

	if err := c.Close(); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("loop stopped: %w", runErr)
	}
	fmt.Printf("anima asleep after %d cycle(s).\n", c.Controller.Cycles())
	return nil
}
