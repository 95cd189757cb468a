// Package main implements the anima CLI. This file handles causal memory
// export, import, and analysis.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"anima/internal/cml"
)

var whatChangedWindow time.Duration

// memoryCmd groups causal memory operations.
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Export, import, and analyze the causal memory",
}

var memoryExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export the causal graph as JSON",
	Long: `Writes the full causal graph (nodes and edges, in append order) as
a single JSON document. The export round-trips losslessly through import.

Without a path the document goes to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMemoryExport,
}

var memoryImportCmd = &cobra.Command{
	Use:   "import [path]",
	Short: "Import a causal graph export",
	Long: `Replaces the memory snapshot with the contents of an export file.
The current graph is not merged; importing over a long-lived memory
discards it. Stop the loop first, or its next snapshot wins.`,
	Args: cobra.ExactArgs(1),
	RunE: runMemoryImport,
}

var memoryPatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show recurring failure patterns",
	Long: `Groups failed outcomes by content and lists the ones that repeat,
most frequent first. These are the patterns the loop's EXPLORE reflex
digs into when it has slack.`,
	RunE: runMemoryPatterns,
}

var memoryWhatChangedCmd = &cobra.Command{
	Use:   "what-changed",
	Short: "Summarize recent graph activity",
	Long: `Reports decisions and outcomes recorded inside the window and
flags significant shifts in decision frequency between the window's
halves (ratio above 2 or below 0.5).`,
	RunE: runMemoryWhatChanged,
}

var memoryArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Show SQLite archive statistics",
	RunE:  runMemoryArchive,
}

func init() {
	memoryWhatChangedCmd.Flags().DurationVar(&whatChangedWindow, "window", time.Hour, "Window to inspect")

	memoryCmd.AddCommand(memoryExportCmd, memoryImportCmd, memoryPatternsCmd,
		memoryWhatChangedCmd, memoryArchiveCmd)
}

func runMemoryExport(cmd *cobra.Command, args []string) error {
	g, err := openGraph()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if err := g.SnapshotTo(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Exported %d node(s), %d edge(s) to %s\n", g.Len(), g.EdgeCount(), args[0])
		return nil
	}

	data, err := json.MarshalIndent(g.Export(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runMemoryImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	var ex cml.Export
	if err := json.Unmarshal(data, &ex); err != nil {
		return fmt.Errorf("parse export: %w", err)
	}

	g := cml.NewGraph()
	if err := g.Import(ex); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	if err := g.SnapshotTo(cfg.Memory.SnapshotPath); err != nil {
		return err
	}
	fmt.Printf("✓ Imported %d node(s), %d edge(s) into %s\n",
		g.Len(), g.EdgeCount(), cfg.Memory.SnapshotPath)
	return nil
}

func runMemoryPatterns(cmd *cobra.Command, args []string) error {
	g, err := openGraph()
	if err != nil {
		return err
	}

	patterns := g.FindFailurePatterns()
	if len(patterns) == 0 {
		fmt.Println("No recurring failures. Either the agent is healthy or it has not failed the same way twice.")
		return nil
	}

	fmt.Printf("%d recurring failure pattern(s):\n\n", len(patterns))
	for _, p := range patterns {
		fmt.Printf("  ×%-3d %s\n       last seen %s\n",
			p.Count, p.Content, time.Unix(int64(p.LastSeen), 0).Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runMemoryWhatChanged(cmd *cobra.Command, args []string) error {
	g, err := openGraph()
	if err != nil {
		return err
	}

	now := float64(time.Now().UnixNano()) / 1e9
	report := g.WhatChanged(now-whatChangedWindow.Seconds(), now)

	fmt.Printf("Last %s: %d decision(s), %d outcome(s)\n",
		whatChangedWindow, len(report.NewDecisions), len(report.NewOutcomes))
	fmt.Printf("Decision frequency between window halves: %.2fx (%s)\n",
		report.DecisionRatio, report.Direction)
	if report.Significant {
		fmt.Printf("⚠ %s\n", report.Reason)
	}
	return nil
}

func runMemoryArchive(cmd *cobra.Command, args []string) error {
	if cfg.Memory.ArchivePath == "" {
		fmt.Println("Archive disabled. Set memory.archive_path in the configuration to enable it.")
		return nil
	}

	archive, err := cml.NewArchive(cfg.Memory.ArchivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	stats, err := archive.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Archive %s:\n", cfg.Memory.ArchivePath)
	for k, v := range stats {
		fmt.Printf("  %-12s %d\n", k, v)
	}
	return nil
}
