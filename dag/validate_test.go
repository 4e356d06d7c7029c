package dag

import (
	"fmt"
	"testing"
)

type fakeCatalog map[string][]string

func (c fakeCatalog) Known(nodeType string) bool {
	_, ok := c[nodeType]
	return ok
}

func (c fakeCatalog) CheckConfig(nodeType string, config map[string]any) []string {
	var out []string
	for _, key := range c[nodeType] {
		if s, _ := config[key].(string); s == "" {
			out = append(out, fmt.Sprintf("%q is required.", key))
		}
	}
	return out
}

func codes(issues []Issue) map[string]int {
	m := make(map[string]int)
	for _, i := range issues {
		m[i.Code]++
	}
	return m
}

func TestValidate(t *testing.T) {
	catalog := fakeCatalog{"scriptRun": {"command"}, "notification": nil}

	tests := []struct {
		name     string
		nodes    []Node
		edges    []Edge
		errors   map[string]int
		warnings map[string]int
	}{
		{
			name:  "valid chain",
			nodes: nodes("a", "b"),
			edges: []Edge{{"a", "b"}},
		},
		{
			name:   "empty flow",
			errors: map[string]int{IssueEmptyFlow: 1},
		},
		{
			name:   "unknown endpoints",
			nodes:  nodes("a", "b"),
			edges:  []Edge{{"a", "b"}, {"ghost", "a"}, {"b", "phantom"}},
			errors: map[string]int{IssueUnknownSource: 1, IssueUnknownTarget: 1},
		},
		{
			name:   "cycle",
			nodes:  nodes("a", "b", "c"),
			edges:  []Edge{{"a", "b"}, {"b", "c"}, {"c", "b"}},
			errors: map[string]int{IssueCycle: 1},
		},
		{
			name:     "duplicate edge and disconnected node",
			nodes:    nodes("a", "b", "lonely"),
			edges:    []Edge{{"a", "b"}, {"a", "b"}},
			warnings: map[string]int{IssueDuplicateEdge: 1, IssueDisconnected: 1},
		},
		{
			name:   "unknown type and missing config",
			nodes:  []Node{{ID: "x", Type: "teleport"}, {ID: "y", Type: "scriptRun"}},
			edges:  []Edge{{"x", "y"}},
			errors: map[string]int{IssueUnknownType: 1, IssueMissingConfig: 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := mustGraph(t, tc.nodes, tc.edges)
			r := g.Validate(catalog)

			if got := codes(r.Errors); fmt.Sprint(got) != fmt.Sprint(orEmpty(tc.errors)) {
				t.Errorf("errors = %v, want %v (%v)", got, tc.errors, r.Errors)
			}
			if got := codes(r.Warnings); fmt.Sprint(got) != fmt.Sprint(orEmpty(tc.warnings)) {
				t.Errorf("warnings = %v, want %v", got, tc.warnings)
			}
			if r.Valid != (len(tc.errors) == 0) {
				t.Errorf("Valid = %v", r.Valid)
			}
		})
	}
}

func orEmpty(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func TestValidateWithoutCatalog(t *testing.T) {
	g := mustGraph(t, []Node{{ID: "x", Type: "anything"}}, nil)
	if r := g.Validate(nil); !r.Valid {
		t.Errorf("expected structural-only validation to pass, got %v", r.Errors)
	}
}

func TestFindCyclePath(t *testing.T) {
	g := mustGraph(t, nodes("a", "b", "c"), []Edge{{"a", "b"}, {"b", "c"}, {"c", "a"}})
	r := g.Validate(nil)
	if len(r.Errors) != 1 {
		t.Fatalf("expected one cycle error, got %v", r.Errors)
	}
	want := "Flow contains a cycle (a -> b -> c -> a). Execution is not possible."
	if r.Errors[0].Message != want {
		t.Errorf("message = %q, want %q", r.Errors[0].Message, want)
	}
}
