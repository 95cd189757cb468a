package cml

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// buildSampleGraph returns a graph with a closed session and a free event.
func buildSampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := newTestGraph()

	if _, err := g.Record(NodeEvent, "boot", "core", 1.0, map[string]any{"version": "1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.StartDecisionSession("S", "warm the cache"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.RecordToolExecution("S", "memory.retrieve", "cache", "12 hits", 0.4, true); err != nil {
		t.Fatal(err)
	}
	if _, err := g.RecordOutcome("S", "cache warmed", true, map[string]float64{"regret": 0.1}); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestExportImportRoundTrip(t *testing.T) {
	g := buildSampleGraph(t)
	ex := g.Export()

	restored := NewGraph()
	if err := restored.Import(ex); err != nil {
		t.Fatalf("Import: %v", err)
	}
	back := restored.Export()

	if diff := cmp.Diff(ex.Nodes, back.Nodes); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ex.Edges, back.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}

	// Queries behave identically on the restored graph.
	var outcomeID string
	for _, n := range ex.Nodes {
		if n.Type == NodeOutcome {
			outcomeID = n.ID
		}
	}
	origWhy, err := g.Why(outcomeID)
	if err != nil {
		t.Fatal(err)
	}
	restoredWhy, err := restored.Why(outcomeID)
	if err != nil {
		t.Fatal(err)
	}
	if origWhy.Confidence != restoredWhy.Confidence || len(origWhy.Chain) != len(restoredWhy.Chain) {
		t.Errorf("why() diverged after round trip: %v vs %v", origWhy, restoredWhy)
	}
}

func TestImportRejectsBadExports(t *testing.T) {
	g := NewGraph()

	if err := g.Import(Export{Version: "99"}); err == nil {
		t.Error("unknown version should be rejected")
	}

	bad := Export{
		Version: exportVersion,
		Nodes:   []*Node{{ID: "event_a", Type: NodeEvent, Timestamp: 1, Confidence: 1}},
		Edges:   []*Edge{{ID: "edge_x", From: "event_a", To: "outcome_gone", Confidence: 0.5}},
	}
	if err := g.Import(bad); err == nil {
		t.Error("edge with a missing endpoint should be rejected")
	}

	dup := Export{
		Version: exportVersion,
		Nodes: []*Node{
			{ID: "event_a", Type: NodeEvent, Timestamp: 1, Confidence: 1},
			{ID: "event_a", Type: NodeEvent, Timestamp: 2, Confidence: 1},
		},
	}
	if err := g.Import(dup); err == nil {
		t.Error("duplicate node ids should be rejected")
	}
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	g := buildSampleGraph(t)
	path := filepath.Join(t.TempDir(), "memory.json")

	if err := g.SnapshotTo(path); err != nil {
		t.Fatalf("SnapshotTo: %v", err)
	}
	restored, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if restored.Len() != g.Len() || restored.EdgeCount() != g.EdgeCount() {
		t.Errorf("restored %d nodes/%d edges, want %d/%d",
			restored.Len(), restored.EdgeCount(), g.Len(), g.EdgeCount())
	}
}
