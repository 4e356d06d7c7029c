package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kbukum/devflow/component"
)

// FlowInfo is a flow loaded at startup.
type FlowInfo struct {
	ID    string
	Nodes int
}

// Summary prints what the process started with.
type Summary struct {
	serviceName     string
	version         string
	out             io.Writer
	startupDuration time.Duration
	flows           []FlowInfo
}

// NewSummary creates a summary printed to out, or stdout when out is nil.
func NewSummary(serviceName, version string, out io.Writer) *Summary {
	if out == nil {
		out = os.Stdout
	}
	return &Summary{serviceName: serviceName, version: version, out: out}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackFlow records a registered flow.
func (s *Summary) TrackFlow(id string, nodes int) {
	s.flows = append(s.flows, FlowInfo{ID: id, Nodes: nodes})
}

// Flows returns the tracked flows.
func (s *Summary) Flows() []FlowInfo {
	return s.flows
}

// Display prints the summary with live health from registry.
func (s *Summary) Display(ctx context.Context, registry *component.Registry) {
	w := s.out
	version := s.version
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(w, "\n%s %s started in %.2fs\n", s.serviceName, version, s.startupDuration.Seconds())

	var comps []component.Component
	var health map[string]component.Health
	if registry != nil {
		comps = registry.All()
		health = make(map[string]component.Health, len(comps))
		for _, h := range registry.HealthAll(ctx) {
			health[h.Name] = h
		}
	}

	fmt.Fprintf(w, "\nComponents\n")
	if len(comps) == 0 {
		fmt.Fprintf(w, "   └── none\n")
	}
	healthy := 0
	for i, c := range comps {
		h, ok := health[c.Name()]
		if !ok {
			h = component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "no health reported"}
		}
		if h.Status == component.StatusHealthy {
			healthy++
		}
		line := fmt.Sprintf("%s %s", healthIcon(h.Status), c.Name())
		if d, ok := c.(component.Describable); ok {
			desc := d.Describe()
			if desc.Type != "" {
				line += " [" + desc.Type + "]"
			}
			if desc.Details != "" {
				line += " " + desc.Details
			}
		}
		if h.Message != "" && h.Status != component.StatusHealthy {
			line += ": " + h.Message
		}
		fmt.Fprintf(w, "   %s %s\n", treePrefix(i, len(comps)), line)
	}
	if len(comps) > 0 {
		fmt.Fprintf(w, "   %d/%d healthy\n", healthy, len(comps))
	}

	if len(s.flows) > 0 {
		fmt.Fprintf(w, "\nFlows (%d)\n", len(s.flows))
		for i, f := range s.flows {
			fmt.Fprintf(w, "   %s %s (%d nodes)\n", treePrefix(i, len(s.flows)), f.ID, f.Nodes)
		}
	}
	fmt.Fprintln(w)
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func healthIcon(status component.HealthStatus) string {
	switch strings.ToLower(string(status)) {
	case string(component.StatusHealthy):
		return "✅"
	case string(component.StatusDegraded):
		return "⚠️"
	case string(component.StatusUnhealthy):
		return "❌"
	default:
		return "❓"
	}
}
