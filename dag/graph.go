package dag

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCycle is returned by Waves when some nodes can never become ready.
var ErrCycle = errors.New("dag: cycle detected")

// Node is a single step of a flow. Its run status is owned by the run,
// not by the graph.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Label  string         `json:"label,omitempty" yaml:"label,omitempty"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// DisplayName returns the label, falling back to the id.
func (n Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Edge is a dependency: Target depends on Source.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Graph is an immutable set of nodes and edges. Edges whose endpoints are
// unknown are kept for validation but ignored for scheduling.
type Graph struct {
	nodes map[string]Node
	order []string
	edges []Edge
	out   map[string][]string
	in    map[string][]string
}

// New builds a graph. Node ids must be non-empty and unique. Duplicate
// edges collapse to one adjacency entry.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]Node, len(nodes)),
		order: make([]string, 0, len(nodes)),
		edges: append([]Edge(nil), edges...),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("dag: node with empty id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("dag: duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if !g.Has(e.Source) || !g.Has(e.Target) || seen[e] {
			continue
		}
		seen[e] = true
		g.out[e.Source] = append(g.out[e.Source], e.Target)
		g.in[e.Target] = append(g.in[e.Target], e.Source)
	}
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// Has reports whether id names a node.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// IDs returns all node ids in declaration order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Edges returns the edges as declared, including invalid ones.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Children returns the direct dependents of id in edge order.
func (g *Graph) Children(id string) []string {
	return append([]string(nil), g.out[id]...)
}

// InDegrees counts, for each node, the valid edges pointing at it.
func (g *Graph) InDegrees() map[string]int {
	deg := make(map[string]int, len(g.order))
	for _, id := range g.order {
		deg[id] = len(g.in[id])
	}
	return deg
}

// Descendants returns every node reachable from id, excluding id, in
// depth-first preorder.
func (g *Graph) Descendants(id string) []string {
	var out []string
	visited := map[string]bool{id: true}
	var walk func(string)
	walk = func(cur string) {
		for _, child := range g.out[cur] {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			walk(child)
		}
	}
	walk(id)
	return out
}

// Waves groups nodes into Kahn levels: every node in a wave depends only
// on nodes in earlier waves. Ids inside a wave are sorted. When a cycle
// leaves nodes unreachable, the waves computed so far are returned with
// an error wrapping ErrCycle.
func (g *Graph) Waves() ([][]string, error) {
	inDegree := g.InDegrees()

	var ready []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var waves [][]string
	visited := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		waves = append(waves, ready)
		visited += len(ready)

		var next []string
		for _, id := range ready {
			for _, child := range g.out[id] {
				inDegree[child]--
				if inDegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		ready = next
	}

	if visited != len(g.order) {
		return waves, fmt.Errorf("%w: scheduled %d of %d nodes", ErrCycle, visited, len(g.order))
	}
	return waves, nil
}
