// Package main implements the anima CLI. This file handles causal
// explanation queries against the memory graph.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"anima/internal/cml"
)

var whyJSON bool

// whyCmd explains an outcome from the causal memory.
var whyCmd = &cobra.Command{
	Use:   "why [outcome-id]",
	Short: "Explain why an outcome happened",
	Long: `Walks the causal memory backwards from an outcome and prints the
chain of decisions and observations that produced it, with an aggregate
confidence (the geometric mean of the chain, so one weak link drags the
whole explanation down).

Without an argument, explains the most recent outcome.

Examples:
  anima why                 # explain the latest outcome
  anima why node_3f2a91c4   # explain a specific node`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWhy,
}

func init() {
	whyCmd.Flags().BoolVar(&whyJSON, "json", false, "Print the chain as JSON")
}

func runWhy(cmd *cobra.Command, args []string) error {
	g, err := openGraph()
	if err != nil {
		return err
	}
	if g.Len() == 0 {
		fmt.Println("Causal memory is empty. Run the loop first: 'anima run'.")
		return nil
	}

	id := ""
	if len(args) > 0 {
		id = args[0]
	} else {
		id = latestOutcomeID(g)
		if id == "" {
			fmt.Println("No outcomes recorded yet; nothing to explain.")
			return nil
		}
	}

	result, err := g.Why(id)
	if err != nil {
		return err
	}

	if whyJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	node, _ := g.Node(id)
	fmt.Println(renderWhy(node, result))
	return nil
}

// openGraph loads the persisted causal memory for read-only queries. A loop
// that has never run leaves no snapshot behind; that is an empty graph, not
// an error.
func openGraph() (*cml.Graph, error) {
	if _, err := os.Stat(cfg.Memory.SnapshotPath); err != nil {
		if os.IsNotExist(err) {
			return cml.NewGraph(), nil
		}
		return nil, fmt.Errorf("stat memory snapshot: %w", err)
	}
	return cml.LoadSnapshot(cfg.Memory.SnapshotPath)
}

// latestOutcomeID returns the most recently appended OUTCOME node.
func latestOutcomeID(g *cml.Graph) string {
	outcome := cml.NodeOutcome
	nodes := g.FindBefore(float64(time.Now().UnixNano())/1e9+1, &outcome)
	if len(nodes) == 0 {
		return ""
	}
	return nodes[len(nodes)-1].ID
}

// renderWhy formats the chain as markdown and renders it for the terminal.
func renderWhy(node *cml.Node, result cml.WhyResult) string {
	var md strings.Builder
	md.WriteString(fmt.Sprintf("# Why %s\n\n", result.OutcomeID))
	if node != nil {
		md.WriteString(fmt.Sprintf("**%s** %s\n\n", node.Type, node.Content))
	}

	if len(result.Chain) == 0 {
		md.WriteString("No recorded causes. This outcome is a root event.\n")
	} else {
		md.WriteString(fmt.Sprintf("Because (confidence %.2f):\n\n", result.Confidence))
		for _, entry := range result.Chain {
			indent := strings.Repeat("  ", entry.Depth-1)
			md.WriteString(fmt.Sprintf("%s- *%s* %s (%.2f)\n",
				indent, entry.Node.Type, entry.Node.Content, entry.Node.Confidence))
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return md.String()
	}
	out, err := renderer.Render(md.String())
	if err != nil {
		return md.String()
	}
	return out
}
