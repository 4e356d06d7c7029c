package dag

// Flow is a named graph definition as stored in a file or posted to the API.
type Flow struct {
	ID    string    `json:"id" yaml:"id"`
	Name  string    `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []NodeDef `json:"nodes" yaml:"nodes"`
	Edges []Edge    `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// NodeDef is a node plus optional depends_on sugar for incoming edges.
type NodeDef struct {
	Node      `yaml:",inline"`
	DependsOn []string `json:"dependsOn,omitempty" yaml:"depends_on,omitempty"`
}

// Graph folds depends_on into edges and builds the graph. Explicit edges
// come first, then depends_on edges in node order.
func (f *Flow) Graph() (*Graph, error) {
	nodes := make([]Node, 0, len(f.Nodes))
	edges := append([]Edge(nil), f.Edges...)
	for _, def := range f.Nodes {
		nodes = append(nodes, def.Node)
		for _, dep := range def.DependsOn {
			edges = append(edges, Edge{Source: dep, Target: def.ID})
		}
	}
	return New(nodes, edges)
}
