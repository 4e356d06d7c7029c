// Package dag models a flow as a directed acyclic graph of typed nodes.
//
// A Graph is built once per run and never mutated. It answers the
// questions a scheduler asks: which nodes are children of a node, how many
// valid incoming edges each node has, which nodes are transitively
// downstream, and how nodes group into Kahn waves.
//
// Flows are loaded from YAML, JSON or HCL files:
//
//	f, err := dag.LoadFile("flows/release.yaml")
//	g, err := f.Graph()
//	report := g.Validate(registry)
//	plan := g.Plan()
package dag
