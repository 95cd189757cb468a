package cml

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestArchiveRoundTrip(t *testing.T) {
	g := buildSampleGraph(t)
	ex := g.Export()

	path := filepath.Join(t.TempDir(), "memory.db")
	archive, err := NewArchive(path)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer archive.Close()

	if err := archive.Store(ex); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := archive.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(ex.Nodes, loaded.Nodes); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ex.Edges, loaded.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveStoreIsIdempotent(t *testing.T) {
	g := buildSampleGraph(t)
	ex := g.Export()

	path := filepath.Join(t.TempDir(), "memory.db")
	archive, err := NewArchive(path)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer archive.Close()

	if err := archive.Store(ex); err != nil {
		t.Fatal(err)
	}
	if err := archive.Store(ex); err != nil {
		t.Fatal(err)
	}

	stats, err := archive.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["nodes"] != int64(len(ex.Nodes)) {
		t.Errorf("nodes = %d, want %d after double store", stats["nodes"], len(ex.Nodes))
	}
	if stats["edges"] != int64(len(ex.Edges)) {
		t.Errorf("edges = %d, want %d after double store", stats["edges"], len(ex.Edges))
	}
}

func TestArchiveImportBack(t *testing.T) {
	g := buildSampleGraph(t)

	path := filepath.Join(t.TempDir(), "memory.db")
	archive, err := NewArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	if err := archive.Store(g.Export()); err != nil {
		t.Fatal(err)
	}
	loaded, err := archive.Load()
	if err != nil {
		t.Fatal(err)
	}

	restored := NewGraph()
	if err := restored.Import(loaded); err != nil {
		t.Fatalf("Import from archive: %v", err)
	}
	if restored.Len() != g.Len() || restored.EdgeCount() != g.EdgeCount() {
		t.Errorf("restored %d/%d, want %d/%d",
			restored.Len(), restored.EdgeCount(), g.Len(), g.EdgeCount())
	}
}
