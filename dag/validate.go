package dag

import (
	"fmt"
	"sort"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	NodeID   string   `json:"nodeId,omitempty"`
	Message  string   `json:"message"`
}

// Issue codes.
const (
	IssueEmptyFlow     = "empty_flow"
	IssueUnknownSource = "unknown_source"
	IssueUnknownTarget = "unknown_target"
	IssueCycle         = "cycle"
	IssueDuplicateEdge = "duplicate_edge"
	IssueDisconnected  = "disconnected"
	IssueUnknownType   = "unknown_type"
	IssueMissingConfig = "missing_config"
)

// ValidationReport collects errors and warnings for a graph.
type ValidationReport struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func (r *ValidationReport) errorf(code, nodeID, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{SeverityError, code, nodeID, fmt.Sprintf(format, args...)})
}

func (r *ValidationReport) warnf(code, nodeID, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{SeverityWarning, code, nodeID, fmt.Sprintf(format, args...)})
}

// Catalog describes the node types a runtime can execute.
type Catalog interface {
	// Known reports whether nodeType has a registered capability.
	Known(nodeType string) bool
	// CheckConfig returns one message per problem with a node's config.
	CheckConfig(nodeType string, config map[string]any) []string
}

// Validate checks the graph for structural problems and, when catalog is
// non-nil, for unknown node types and incomplete node config.
func (g *Graph) Validate(catalog Catalog) *ValidationReport {
	r := &ValidationReport{Errors: []Issue{}, Warnings: []Issue{}}

	if g.Len() == 0 {
		r.errorf(IssueEmptyFlow, "", "Flow must contain at least one node.")
	}

	seen := make(map[Edge]bool, len(g.edges))
	connected := make(map[string]bool)
	for _, e := range g.edges {
		if !g.Has(e.Source) {
			r.errorf(IssueUnknownSource, e.Target, "Edge %s -> %s references unknown source node %q.", e.Source, e.Target, e.Source)
		}
		if !g.Has(e.Target) {
			r.errorf(IssueUnknownTarget, e.Source, "Edge %s -> %s references unknown target node %q.", e.Source, e.Target, e.Target)
		}
		if seen[e] {
			r.warnf(IssueDuplicateEdge, e.Target, "Edge %s -> %s is declared more than once.", e.Source, e.Target)
		}
		seen[e] = true
		connected[e.Source] = true
		connected[e.Target] = true
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		r.errorf(IssueCycle, cycle[0], "Flow contains a cycle (%s). Execution is not possible.", joinPath(cycle))
	}

	for _, n := range g.Nodes() {
		if g.Len() > 1 && !connected[n.ID] {
			r.warnf(IssueDisconnected, n.ID, "Node %q (%s) is disconnected from the flow.", n.DisplayName(), n.ID)
		}
		if catalog == nil {
			continue
		}
		if !catalog.Known(n.Type) {
			r.errorf(IssueUnknownType, n.ID, "Node %q has unknown type %q.", n.DisplayName(), n.Type)
			continue
		}
		for _, msg := range catalog.CheckConfig(n.Type, n.Config) {
			r.errorf(IssueMissingConfig, n.ID, "Node %q: %s", n.DisplayName(), msg)
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

// findCycle returns one cycle as a closed path, or nil.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, g.Len())
	var stack []string
	var cycle []string

	var dfs func(string) bool
	dfs = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, child := range g.out[id] {
			switch color[child] {
			case grey:
				for i, s := range stack {
					if s == child {
						cycle = append(append([]string(nil), stack[i:]...), child)
						break
					}
				}
				return true
			case white:
				if dfs(child) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := g.IDs()
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white && dfs(id) {
			return cycle
		}
	}
	return nil
}

func joinPath(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}
