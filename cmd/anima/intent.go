// Package main implements the anima CLI. This file handles intent injection
// and inspection.
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anima/internal/intent"
)

var (
	intentKind     string
	intentPriority float64
	intentSource   string
	intentContext  []string
)

// intentCmd groups intent stack operations.
var intentCmd = &cobra.Command{
	Use:   "intent",
	Short: "Inject or inspect intents on the priority stack",
}

var intentAddCmd = &cobra.Command{
	Use:   "add [description]",
	Short: "Propose an intent to the agent",
	Long: `Adds a proposed intent to the stack. The loop picks it up on its
next cycle, where it still has to survive the trust gate, the canon check,
and the will-score hurdle before anything runs.

The source you give governs trust: advice from sources below the trust
threshold is dropped at planning time.

Kinds: maintain, serve, learn, explore.

Example:
  anima intent add "summarize yesterday's failures" --kind serve --priority 0.8`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIntentAdd,
}

var intentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued intents by priority",
	RunE:  runIntentList,
}

func init() {
	intentAddCmd.Flags().StringVarP(&intentKind, "kind", "k", "serve", "Intent kind: maintain, serve, learn, explore")
	intentAddCmd.Flags().Float64VarP(&intentPriority, "priority", "p", 0.5, "Initial priority in [0,1]")
	intentAddCmd.Flags().StringVarP(&intentSource, "source", "s", "operator", "Who is asking (governs trust)")
	intentAddCmd.Flags().StringArrayVar(&intentContext, "set", nil, "Context parameter as key=value (repeatable)")

	intentCmd.AddCommand(intentAddCmd, intentListCmd)
}

// openStack loads the persisted intent stack.
func openStack() (*intent.Stack, error) {
	stack := intent.NewStack(intent.StackConfig{
		HalfLife:  cfg.Intent.GetHalfLife(),
		Floor:     cfg.Intent.Floor,
		StatePath: cfg.Autonomy.StatePath,
	})
	if err := stack.Load(); err != nil {
		return nil, fmt.Errorf("load intents: %w", err)
	}
	return stack, nil
}

func runIntentAdd(cmd *cobra.Command, args []string) error {
	kind, err := intent.ParseKind(intentKind)
	if err != nil {
		return err
	}
	ctxMap, err := parseKeyValues(intentContext)
	if err != nil {
		return err
	}

	stack, err := openStack()
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("save intents", zap.Error(err))
		}
	}()

	in := intent.New(kind, strings.Join(args, " "), intentSource, intentPriority)
	in.Context = ctxMap

	if stack.Add(in) {
		fmt.Printf("✓ Intent %s queued: %s %q (priority %.2f, source %s)\n",
			in.ID, in.Kind, in.Description, in.Priority, in.Source)
	} else {
		fmt.Printf("✓ Merged into an existing %s intent with the same description; priority is now the max of the two.\n", in.Kind)
	}
	fmt.Printf("  %d intent(s) queued.\n", stack.Len())
	return nil
}

func runIntentList(cmd *cobra.Command, args []string) error {
	stack, err := openStack()
	if err != nil {
		return err
	}

	items := stack.Items()
	if len(items) == 0 {
		fmt.Println("No intents queued. Propose one with 'anima intent add'.")
		return nil
	}

	fmt.Printf("%d intent(s) queued:\n\n", len(items))
	fmt.Printf("  %-16s %-9s %-9s %-10s %-8s %s\n", "ID", "KIND", "PRIORITY", "SOURCE", "AGE", "DESCRIPTION")
	for _, in := range items {
		fmt.Printf("  %-16s %-9s %-9.2f %-10s %-8s %s\n",
			in.ID, in.Kind, in.Priority, in.Source,
			time.Since(in.CreatedAt).Round(time.Second), in.Description)
	}
	return nil
}
