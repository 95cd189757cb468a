// Package main implements the anima CLI. This file handles direct tool
// invocation through the orchestrator pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anima/internal/core"
	"anima/internal/tools"
)

var (
	invokeAction   string
	invokeContext  []string
	invokeRisk     string
	invokeCost     float64
	invokeKey      string
	invokeDeadline time.Duration
	invokeCaller   string
	invokeJSON     bool
)

// invokeCmd routes one envelope through the full orchestrator pipeline.
var invokeCmd = &cobra.Command{
	Use:   "invoke [tool]",
	Short: "Invoke a registered tool through the orchestrator",
	Long: `Builds a tool invocation envelope and routes it through the full
pipeline: validation, idempotency replay, cost estimation, canon check,
execution, and ledger accounting.

The invocation is charged to the economy and recorded in the action ledger
exactly like one the autonomy loop makes itself.

Built-in tools:
  maintainer.tick             routine upkeep, reports system health
  memory.retrieve             query causal memory (context: query)
  memory.search_patterns      recurring failure patterns
  evolution.propose_mutation  propose a self-mutation (context: files=<json object>)

Exit codes: 0 success, 1 refused, 2 overloaded, 3 timeout.

Example:
  anima invoke memory.retrieve --action "find recent failures" --set query=failure`,
	Args: cobra.ExactArgs(1),
	RunE: runInvoke,
}

func init() {
	invokeCmd.Flags().StringVarP(&invokeAction, "action", "a", "", "What this invocation does, in plain words (required)")
	invokeCmd.Flags().StringArrayVar(&invokeContext, "set", nil, "Context parameter as key=value (repeatable)")
	invokeCmd.Flags().StringVar(&invokeRisk, "risk", "low", "Risk level: low, medium, high")
	invokeCmd.Flags().Float64Var(&invokeCost, "cost", 0, "Estimated cost hint")
	invokeCmd.Flags().StringVar(&invokeKey, "key", "", "Idempotency key; replays return the cached result")
	invokeCmd.Flags().DurationVar(&invokeDeadline, "deadline", 30*time.Second, "Execution deadline")
	invokeCmd.Flags().StringVar(&invokeCaller, "caller", "operator", "Envelope caller identity")
	invokeCmd.Flags().BoolVar(&invokeJSON, "json", false, "Print the raw result as JSON")
	invokeCmd.MarkFlagRequired("action")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), invokeDeadline+5*time.Second)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	risk, err := tools.ParseRiskLevel(invokeRisk)
	if err != nil {
		return err
	}
	envCtx, err := parseKeyValues(invokeContext)
	if err != nil {
		return err
	}

	c, err := core.New(cfg)
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	env := &tools.Envelope{
		ToolName:       args[0],
		Action:         invokeAction,
		Context:        envCtx,
		RiskLevel:      risk,
		EstimatedCost:  invokeCost,
		IdempotencyKey: invokeKey,
		DeadlineMS:     invokeDeadline.Milliseconds(),
		Caller:         invokeCaller,
	}

	logger.Info("Invoking tool", zap.String("tool", env.ToolName), zap.String("action", env.Action))
	res := c.Orchestrator.Invoke(ctx, env)

	if invokeJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printResult(env, res)
	}
	return resultExitError(res)
}

func printResult(env *tools.Envelope, res tools.Result) {
	if res.Success {
		fmt.Printf("✓ %s completed (cost %.4f)\n", env.ToolName, res.CostSpent)
		if res.Output != nil {
			fmt.Printf("  %v\n", res.Output)
		}
	} else {
		fmt.Printf("✗ %s failed: %s [%s]\n", env.ToolName, res.Message, res.ErrorCode)
		if res.Retryable {
			fmt.Println("  (retryable)")
		}
	}
	for _, w := range res.Warnings {
		fmt.Printf("  ⚠ %s\n", w)
	}
}

// resultExitError maps a failed result onto the documented exit codes.
func resultExitError(res tools.Result) error {
	if res.Success {
		return nil
	}
	err := fmt.Errorf("%s: %s", res.ErrorCode, res.Message)
	switch res.ErrorCode {
	case tools.ErrCodeCanonViolation, tools.ErrCodeTrustRejected:
		return &exitError{code: exitRefused, err: err}
	case tools.ErrCodeOverloaded:
		return &exitError{code: exitOverloaded, err: err}
	case tools.ErrCodeTimeout:
		return &exitError{code: exitTimeout, err: err}
	}
	return err
}

// parseKeyValues splits repeated key=value flags into a context map.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed context parameter %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
