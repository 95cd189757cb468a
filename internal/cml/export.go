package cml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"anima/internal/logging"
)

const exportVersion = "1"

// Export is the lossless serialized form of the arena. Nodes appear in
// append order so an import reproduces the original scan ordering.
type Export struct {
	Version    string  `json:"version"`
	ExportedAt float64 `json:"exported_at"`
	Nodes      []*Node `json:"nodes"`
	Edges      []*Edge `json:"edges"`
}

// Export snapshots the whole arena.
func (g *Graph) Export() Export {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ex := Export{
		Version:    exportVersion,
		ExportedAt: g.nowFn(),
		Nodes:      make([]*Node, 0, len(g.order)),
		Edges:      make([]*Edge, 0, len(g.edges)),
	}
	for _, id := range g.order {
		ex.Nodes = append(ex.Nodes, copyNode(g.nodes[id]))
	}
	for _, e := range g.edges {
		edge := *e
		ex.Edges = append(ex.Edges, &edge)
	}
	sort.Slice(ex.Edges, func(i, j int) bool { return ex.Edges[i].ID < ex.Edges[j].ID })
	return ex
}

// copyNode clones a node deeply enough that later graph mutations cannot
// reach into an export.
func copyNode(n *Node) *Node {
	out := *n
	if n.Metadata != nil {
		out.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	if n.Causes != nil {
		out.Causes = append([]string(nil), n.Causes...)
	}
	if n.Effects != nil {
		out.Effects = append([]string(nil), n.Effects...)
	}
	if n.RegretLevel != nil {
		r := *n.RegretLevel
		out.RegretLevel = &r
	}
	return &out
}

// Import replaces the arena's contents with an export. Node causes/effects
// come from the export verbatim; edges are validated against the imported
// node set but do not rewrite the endpoint lists.
func (g *Graph) Import(ex Export) error {
	if ex.Version != exportVersion {
		return fmt.Errorf("unsupported export version %q", ex.Version)
	}

	nodes := make(map[string]*Node, len(ex.Nodes))
	order := make([]string, 0, len(ex.Nodes))
	byType := make(map[NodeType][]string)
	byTime := make(map[int64][]string)
	for _, n := range ex.Nodes {
		if n.ID == "" {
			return fmt.Errorf("import: node with empty id")
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("import: duplicate node id %s", n.ID)
		}
		nodes[n.ID] = n
		order = append(order, n.ID)
		byType[n.Type] = append(byType[n.Type], n.ID)
		bucket := int64(n.Timestamp) / bucketSeconds
		byTime[bucket] = append(byTime[bucket], n.ID)
	}

	edges := make(map[string]*Edge, len(ex.Edges))
	for _, e := range ex.Edges {
		if _, ok := nodes[e.From]; !ok {
			return fmt.Errorf("import: edge %s references missing node %s", e.ID, e.From)
		}
		if _, ok := nodes[e.To]; !ok {
			return fmt.Errorf("import: edge %s references missing node %s", e.ID, e.To)
		}
		edges[e.ID] = e
	}

	g.mu.Lock()
	g.nodes = nodes
	g.edges = edges
	g.order = order
	g.byType = byType
	g.byTime = byTime
	g.sessions = make(map[string]*session)
	g.mu.Unlock()

	logging.Memory("imported %d node(s), %d edge(s)", len(nodes), len(edges))
	return nil
}

// SnapshotTo writes the arena to a JSON file atomically.
func (g *Graph) SnapshotTo(path string) error {
	ex := g.Export()
	data, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write memory snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads an arena from a JSON snapshot file.
func LoadSnapshot(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read memory snapshot: %w", err)
	}
	var ex Export
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("parse memory snapshot: %w", err)
	}
	g := NewGraph()
	if err := g.Import(ex); err != nil {
		return nil, err
	}
	return g, nil
}
