// Package main implements the anima CLI. This file handles the evolution
// surface: policy status, the freeze switch, and the attempt report.
package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"anima/internal/evolution"
)

var evolveReportJSON bool

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Inspect and control self-modification",
}

var evolveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the mutation policy and engine state",
	RunE:  runEvolveStatus,
}

var evolveFreezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Halt all self-modification",
	Long: `Freezes the evolution engine. Every mutation proposal is rejected
until an explicit unfreeze; the frozen state survives restarts.`,
	RunE: runEvolveFreeze,
}

var evolveUnfreezeCmd = &cobra.Command{
	Use:   "unfreeze",
	Short: "Resume self-modification",
	Long: `Lifts the freeze and resets the harm counter. This is a human
judgment call: the engine never unfreezes itself.`,
	RunE: runEvolveUnfreeze,
}

var evolveReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the mutation attempt history",
	RunE:  runEvolveReport,
}

func init() {
	evolveReportCmd.Flags().BoolVar(&evolveReportJSON, "json", false, "Output as JSON")

	evolveCmd.AddCommand(evolveStatusCmd, evolveFreezeCmd, evolveUnfreezeCmd, evolveReportCmd)
}

func runEvolveStatus(cmd *cobra.Command, args []string) error {
	policy, err := evolution.LoadPolicy(cfg.Evolution.PolicyPath)
	if err != nil {
		return err
	}
	report, err := evolution.LoadReport(cfg.Evolution.ReportPath)
	if err != nil {
		return err
	}

	if report.Frozen {
		fmt.Printf("✗ FROZEN (%s)\n", report.FreezeReason)
	} else {
		fmt.Println("✓ Active")
	}
	fmt.Printf("Harm count      %d / %d auto-freeze\n", report.HarmCount, policy.AutoFreezeThreshold)
	fmt.Printf("Attempts        %d recorded\n", len(report.Attempts))
	fmt.Println()
	fmt.Printf("Max files       %d per mutation\n", policy.MaxFiles)
	fmt.Printf("Forbidden       %s\n", strings.Join(policy.ForbiddenDomains, ", "))
	fmt.Printf("Must simulate   %v (timeout %s)\n", policy.MustSimulate, policy.SimulationTimeout)
	fmt.Printf("Reviews needed  %d\n", policy.RequiredReviews)
	return nil
}

func runEvolveFreeze(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	eng.Freeze()
	fmt.Println("✗ Evolution frozen. All mutation proposals will be rejected until `anima evolve unfreeze`.")
	return nil
}

func runEvolveUnfreeze(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	if frozen, _ := eng.Frozen(); !frozen {
		fmt.Println("Evolution is not frozen.")
		return nil
	}
	eng.Unfreeze()
	fmt.Println("✓ Evolution unfrozen, harm counter cleared.")
	return nil
}

func runEvolveReport(cmd *cobra.Command, args []string) error {
	report, err := evolution.LoadReport(cfg.Evolution.ReportPath)
	if err != nil {
		return err
	}

	if evolveReportJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(report.Attempts) == 0 {
		fmt.Println("No mutation attempts recorded.")
		return nil
	}

	fmt.Printf("%d attempt(s), harm count %d:\n\n", len(report.Attempts), report.HarmCount)
	fmt.Printf("%-14s %-12s %-8s %5s %-19s %s\n", "ID", "STATE", "RISK", "FILES", "WHEN", "REASON")
	for _, a := range report.Attempts {
		fmt.Printf("%-14s %-12s %-8s %5d %-19s %s\n",
			a.ID, a.State, a.RiskLevel, len(a.FilesModified),
			a.Timestamp.Format("2006-01-02 15:04:05"), a.Reason)
	}
	return nil
}

// openEngine builds an evolution engine against the configured policy and
// report so freeze state round-trips through the report file.
func openEngine() (*evolution.Engine, error) {
	policy, err := evolution.LoadPolicy(cfg.Evolution.PolicyPath)
	if err != nil {
		return nil, err
	}
	return evolution.NewEngine(evolution.EngineConfig{
		Policy:     policy,
		Workspace:  ".",
		ReportPath: cfg.Evolution.ReportPath,
	}), nil
}
