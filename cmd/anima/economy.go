// Package main implements the anima CLI. This file handles the economy
// surface: balance inspection plus the privileged reset and tick operations.
package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"anima/internal/economy"
)

var (
	economyReset bool
	economyTick  bool
	economyJSON  bool
)

var economyCmd = &cobra.Command{
	Use:   "economy",
	Short: "Inspect or administer the agent's budget",
	Long: `Shows the economic position: budget, reserve, lifetime totals, and
per-tool spend/value accounting.

--tick regenerates budget for the wall-clock time since the last tick,
--reset restores the configured starting budget and wipes all accounting.
Both are operator-only interventions; the loop ticks on its own.`,
	RunE: runEconomy,
}

func init() {
	economyCmd.Flags().BoolVar(&economyReset, "reset", false, "Restore the starting budget and wipe accounting")
	economyCmd.Flags().BoolVar(&economyTick, "tick", false, "Regenerate budget for elapsed wall-clock time")
	economyCmd.Flags().BoolVar(&economyJSON, "json", false, "Output as JSON")
}

func runEconomy(cmd *cobra.Command, args []string) error {
	eco := economy.New(economy.Config{
		Budget:         cfg.Orchestrator.Budget,
		Reserve:        cfg.Orchestrator.Reserve,
		RegenPerMinute: cfg.Economy.RegenPercentMin,
		MaxEvents:      cfg.Economy.MaxEvents,
		Path:           cfg.Economy.Path,
	})
	defer eco.Close()

	if err := eco.Load(cfg.Economy.Path); err != nil {
		return err
	}

	if economyReset {
		eco.Reset(cfg.Orchestrator.Budget)
		fmt.Printf("✓ Economy reset: budget %.2f, accounting wiped\n", cfg.Orchestrator.Budget)
		return nil
	}

	if economyTick {
		regen := eco.Tick()
		fmt.Printf("✓ Ticked: +%.4f budget regenerated\n", regen)
	}

	snap := eco.Snapshot()
	if economyJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Budget     %.2f / %.2f reserve\n", snap.Budget, snap.Reserve)
	fmt.Printf("Spent      %.2f lifetime\n", snap.TotalSpent)
	fmt.Printf("Value      %.2f lifetime (net %+.2f)\n", snap.TotalValue, snap.NetPosition)
	fmt.Printf("Earnings   %.2f (%.2f/hour)\n", snap.TotalEarnings, snap.EarningRate)
	if snap.TotalSpent > 0 {
		fmt.Printf("ROI        %.2fx\n", snap.ROIRatio)
	}
	fmt.Printf("Events     %d retained\n", len(snap.Events))

	if len(snap.ToolStats) > 0 {
		names := make([]string, 0, len(snap.ToolStats))
		for name := range snap.ToolStats {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("\n%-28s %8s %8s %10s %10s\n", "TOOL", "CALLS", "FAILS", "SPENT", "VALUE")
		for _, name := range names {
			s := snap.ToolStats[name]
			fmt.Printf("%-28s %8d %8d %10.2f %10.2f\n",
				name, s.Calls, s.Failures, s.TotalSpent, s.TotalValue)
		}
	}
	return nil
}
