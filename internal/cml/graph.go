package cml

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"anima/internal/logging"
)

// bucketSeconds sizes the timestamp index. One bucket per minute keeps the
// index small while pruning most of the scan for time-windowed queries.
const bucketSeconds = 60

// Graph is the in-memory causal arena. All references between nodes are by
// string id; the arena is the single owner of every node and edge.
type Graph struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	edges  map[string]*Edge
	order  []string            // node ids in append order
	byType map[NodeType][]string
	byTime map[int64][]string // minute bucket -> node ids

	sessions map[string]*session

	nowFn func() float64
}

// NewGraph creates an empty arena.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		byType:   make(map[NodeType][]string),
		byTime:   make(map[int64][]string),
		sessions: make(map[string]*session),
		nowFn:    func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// NewNode builds a node with a fresh id and the current timestamp. The node
// is not in the graph until AddNode.
func (g *Graph) NewNode(t NodeType, content, source string, confidence float64) *Node {
	return &Node{
		ID:         newNodeID(t),
		Type:       t,
		Timestamp:  g.nowFn(),
		Content:    content,
		Source:     source,
		Confidence: clamp01(confidence),
	}
}

// AddNode inserts a node, updating all three indexes in one critical
// section. Duplicate ids are rejected.
func (g *Graph) AddNode(n *Node) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(n)
}

func (g *Graph) addNodeLocked(n *Node) error {
	if n.ID == "" {
		n.ID = newNodeID(n.Type)
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("node %s already exists", n.ID)
	}
	if n.Timestamp == 0 {
		n.Timestamp = g.nowFn()
	}
	n.Confidence = clamp01(n.Confidence)

	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	g.byType[n.Type] = append(g.byType[n.Type], n.ID)
	bucket := int64(n.Timestamp) / bucketSeconds
	g.byTime[bucket] = append(g.byTime[bucket], n.ID)
	return nil
}

// AddEdge inserts a causal link. Both endpoints must exist; their
// causes/effects lists are updated in the same critical section as the edge
// insertion.
func (g *Graph) AddEdge(e *Edge) error {
	if e == nil {
		return fmt.Errorf("nil edge")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(e)
}

func (g *Graph) addEdgeLocked(e *Edge) error {
	if e.ID == "" {
		e.ID = newEdgeID()
	}
	if _, exists := g.edges[e.ID]; exists {
		return fmt.Errorf("edge %s already exists", e.ID)
	}
	from, ok := g.nodes[e.From]
	if !ok {
		return fmt.Errorf("edge %s: from node %s not found", e.ID, e.From)
	}
	to, ok := g.nodes[e.To]
	if !ok {
		return fmt.Errorf("edge %s: to node %s not found", e.ID, e.To)
	}
	e.Confidence = clamp01(e.Confidence)

	g.edges[e.ID] = e
	from.Effects = append(from.Effects, to.ID)
	to.Causes = append(to.Causes, from.ID)
	return nil
}

// Link is AddEdge with just endpoints and confidence.
func (g *Graph) Link(fromID, toID string, confidence float64) (*Edge, error) {
	e := &Edge{From: fromID, To: toID, Confidence: confidence}
	if err := g.AddEdge(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the node count.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the edge count.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// FindBefore returns nodes with timestamp strictly before t, sorted by
// timestamp ascending. typeFilter of nil matches every type.
func (g *Graph) FindBefore(t float64, typeFilter *NodeType) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.scanLocked(typeFilter, func(ts float64) bool { return ts < t })
}

// FindAfter returns nodes with timestamp strictly after t, sorted by
// timestamp ascending.
func (g *Graph) FindAfter(t float64, typeFilter *NodeType) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.scanLocked(typeFilter, func(ts float64) bool { return ts > t })
}

// scanLocked walks the narrowest index available and filters by predicate.
// Callers hold g.mu.
func (g *Graph) scanLocked(typeFilter *NodeType, keep func(float64) bool) []*Node {
	ids := g.order
	if typeFilter != nil {
		ids = g.byType[*typeFilter]
	}
	var out []*Node
	for _, id := range ids {
		n := g.nodes[id]
		if keep(n.Timestamp) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// between returns nodes of the given type with t0 <= timestamp < t1, using
// the bucket index to prune. Callers hold g.mu.
func (g *Graph) betweenLocked(t0, t1 float64, typeFilter NodeType) []*Node {
	var out []*Node
	first := int64(t0)/bucketSeconds - 1
	last := int64(t1) / bucketSeconds
	for bucket := first; bucket <= last; bucket++ {
		for _, id := range g.byTime[bucket] {
			n := g.nodes[id]
			if n.Type != typeFilter {
				continue
			}
			if n.Timestamp >= t0 && n.Timestamp < t1 {
				out = append(out, n)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// FindCausesOf returns the direct causes of a node.
func (g *Graph) FindCausesOf(id string) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found", id)
	}
	out := make([]*Node, 0, len(n.Causes))
	for _, cid := range n.Causes {
		if c, ok := g.nodes[cid]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// FindEffectsOf returns the direct effects of a node.
func (g *Graph) FindEffectsOf(id string) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found", id)
	}
	out := make([]*Node, 0, len(n.Effects))
	for _, eid := range n.Effects {
		if e, ok := g.nodes[eid]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Record appends a free-standing node and returns it.
func (g *Graph) Record(t NodeType, content, source string, confidence float64, metadata map[string]any) (*Node, error) {
	n := g.NewNode(t, content, source, confidence)
	n.Metadata = metadata
	if err := g.AddNode(n); err != nil {
		return nil, err
	}
	logging.MemoryDebug("recorded %s %s", t, n.ID)
	return n, nil
}
