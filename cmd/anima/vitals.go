// Package main implements the anima CLI. This file renders the vitals
// dashboard: heartbeat, mind, senses, sovereignty, economy.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anima/internal/autonomy"
	"anima/internal/core"
)

var vitalsJSON bool

// Semantic colors for health grades.
var (
	colorNominal  = lipgloss.Color("#8BC34A") // lime green
	colorStrained = lipgloss.Color("#FFC107") // yellow
	colorCritical = lipgloss.Color("#e53935") // red
	colorInfo     = lipgloss.Color("#2196F3") // blue
)

var (
	panelTitleStyle = lipgloss.NewStyle().Bold(true)
	panelStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// vitalsCmd shows the agent's health at a glance.
var vitalsCmd = &cobra.Command{
	Use:   "vitals",
	Short: "Show the agent's vital signs",
	Long: `Displays the latest vitals snapshot: budget heartbeat, current
focus, pain score and pressure sources, the last sovereignty refusal, and
the value-for-spend summary.

Reads the snapshot the running loop refreshes; without one, boots the core
for a cold reading.`,
	RunE: runVitals,
}

func init() {
	vitalsCmd.Flags().BoolVar(&vitalsJSON, "json", false, "Print the snapshot as JSON")
}

func runVitals(cmd *cobra.Command, args []string) error {
	cold := false
	v, err := autonomy.ReadVitals(cfg.Autonomy.VitalsPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// No snapshot yet: boot the core and take a cold reading.
		cold = true
		c, bootErr := core.New(cfg)
		if bootErr != nil {
			return fmt.Errorf("boot failed: %w", bootErr)
		}
		v = c.Controller.Vitals()
		if closeErr := c.Close(); closeErr != nil {
			logger.Warn("shutdown incomplete", zap.Error(closeErr))
		}
	}

	if vitalsJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(renderVitals(v, cold))
	return nil
}

// renderVitals lays the snapshot out as bordered panels.
func renderVitals(v autonomy.Vitals, cold bool) string {
	status := statusColor(v.Heartbeat.Status)

	heartbeat := panelStyle.BorderForeground(status).Render(lipgloss.JoinVertical(lipgloss.Left,
		panelTitleStyle.Foreground(status).Render("♥ Heartbeat: "+strings.ToUpper(v.Heartbeat.Status)),
		fmt.Sprintf("Budget   %9.2f / %.0f", v.Heartbeat.Budget, v.Heartbeat.Reserve),
		fmt.Sprintf("Trend    %s", v.Heartbeat.Trend),
	))

	mind := panelStyle.BorderForeground(colorInfo).Render(lipgloss.JoinVertical(lipgloss.Left,
		panelTitleStyle.Render("◉ Mind"),
		fmt.Sprintf("Focus    %s", v.Mind.Focus),
		fmt.Sprintf("Stack    %d intent(s) queued", v.Mind.StackDepth),
	))

	pressure := "none"
	if len(v.Senses.PressureSources) > 0 {
		pressure = strings.Join(v.Senses.PressureSources, ", ")
	}
	senses := panelStyle.BorderForeground(painColor(v.Senses.PainScore)).Render(lipgloss.JoinVertical(lipgloss.Left,
		panelTitleStyle.Render("☲ Senses"),
		fmt.Sprintf("Pain     %.2f  [%s]", v.Senses.PainScore, painBar(v.Senses.PainScore)),
		fmt.Sprintf("Pressure %s", pressure),
	))

	refusal := "none recorded"
	border := colorNominal
	if r := v.Sovereignty.LastRefusal; r != nil {
		refusal = fmt.Sprintf("%s gate refused %q\n         %s (%s)",
			r.Gate, r.Intent, r.Reason, r.Time.Format("2006-01-02 15:04:05"))
		border = colorCritical
	}
	sovereignty := panelStyle.BorderForeground(border).Render(lipgloss.JoinVertical(lipgloss.Left,
		panelTitleStyle.Render("⚖ Sovereignty"),
		"Refusal  "+refusal,
	))

	economy := panelStyle.BorderForeground(colorInfo).Render(lipgloss.JoinVertical(lipgloss.Left,
		panelTitleStyle.Render("¤ Economy"),
		fmt.Sprintf("Value    %.2f", v.Economy.TotalValue),
		fmt.Sprintf("Spent    %.2f", v.Economy.TotalSpent),
		fmt.Sprintf("ROI      %.2f", v.Economy.ROI),
	))

	header := fmt.Sprintf("anima vitals - %s", v.Time.Format("2006-01-02 15:04:05"))
	if cold {
		header += " (cold reading, loop not running)"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		panelTitleStyle.Render(header),
		heartbeat, mind, senses, sovereignty, economy,
	)
}

func statusColor(status string) lipgloss.Color {
	switch status {
	case "critical":
		return colorCritical
	case "strained":
		return colorStrained
	default:
		return colorNominal
	}
}

func painColor(pain float64) lipgloss.Color {
	switch {
	case pain > 0.7:
		return colorCritical
	case pain > 0.3:
		return colorStrained
	default:
		return colorNominal
	}
}

// painBar draws a ten-segment gauge.
func painBar(pain float64) string {
	if pain < 0 {
		pain = 0
	}
	if pain > 1 {
		pain = 1
	}
	filled := int(pain*10 + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}
