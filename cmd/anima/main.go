package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"anima/internal/config"
	"anima/internal/logging"
)

// Process exit codes. Anything not listed exits 1.
const (
	exitRefused    = 1  // canon or trust refusal
	exitOverloaded = 2  // queue saturated
	exitTimeout    = 3  // deadline expired
	exitConfig     = 10 // configuration invalid at boot
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger and configuration, built once in PersistentPreRunE.
	logger *zap.Logger
	cfg    *config.Config
)

// exitError carries a specific process exit code through cobra's error
// return so that main can translate refusals and timeouts for scripts.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "anima",
	Short: "anima - an autonomous agent kernel with a conscience",
	Long: `anima is the cognitive core of an autonomous agent.

It runs a single deliberation loop: observe pressure from its own action
ledger, plan against a decaying intent stack, score each candidate against
its canon and its economy, act through a tool orchestrator, and record why
in an append-only causal memory.

Nothing is ever blocked for lack of funds and nothing runs against the
canon: the economy advises, the canon refuses.

Run 'anima run' to start the loop, or 'anima vitals' to see how it feels.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		if err := cfg.Validate(); err != nil {
			return &exitError{code: exitConfig, err: fmt.Errorf("invalid configuration: %w", err)}
		}
		if err := logging.Initialize(cfg.DataDir, logging.Options{
			Debug:      cfg.Logging.DebugMode || verbose,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.Format == "json",
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "anima.yaml", "Configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(intentCmd)
	rootCmd.AddCommand(vitalsCmd)
	rootCmd.AddCommand(whyCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(economyCmd)
	rootCmd.AddCommand(evolveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}
