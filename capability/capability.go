package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/devflow/dag"
	"github.com/kbukum/devflow/executor"
	"github.com/kbukum/devflow/retry"
	"github.com/kbukum/devflow/runstate"
)

// Invocation is everything a capability needs for one attempt.
type Invocation struct {
	Node    dag.Node
	WorkDir string
	Env     map[string]string
	Profile executor.Profile
	RunID   string
	Attempt int
	Logs    executor.LineSink
}

// Log forwards a line to the invocation's sink, if any.
func (inv Invocation) Log(stream, line string) {
	if inv.Logs != nil {
		inv.Logs(stream, line)
	}
}

// AttemptResult is the outcome of one attempt. Error is set iff Success
// is false.
type AttemptResult struct {
	Success bool
	Error   *retry.Failure
	Metrics runstate.Metrics
}

// Succeeded builds a successful result.
func Succeeded(m runstate.Metrics) AttemptResult {
	return AttemptResult{Success: true, Metrics: m}
}

// Failed builds a failed result.
func Failed(format string, args ...any) AttemptResult {
	return AttemptResult{Error: &retry.Failure{Message: fmt.Sprintf(format, args...)}}
}

// Capability executes one node type.
type Capability interface {
	Attempt(ctx context.Context, inv Invocation) AttemptResult
}

// HandlerFunc is a plugin-style capability.
type HandlerFunc func(ctx context.Context, config map[string]any, inv Invocation) AttemptResult

// Attempt calls f with the node config.
func (f HandlerFunc) Attempt(ctx context.Context, inv Invocation) AttemptResult {
	return f(ctx, inv.Node.Config, inv)
}

type entry struct {
	capability Capability
	required   []string
}

// Registry maps node types to capabilities. It satisfies dag.Catalog.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register binds a node type. required lists config keys that must be
// present and non-empty. Registering a type again replaces it.
func (r *Registry) Register(nodeType string, c Capability, required ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[nodeType] = entry{capability: c, required: required}
}

// Get returns the capability for a node type.
func (r *Registry) Get(nodeType string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	return e.capability, ok
}

// List returns the registered node types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Known reports whether a node type is registered.
func (r *Registry) Known(nodeType string) bool {
	_, ok := r.Get(nodeType)
	return ok
}

// CheckConfig reports required keys missing from config.
func (r *Registry) CheckConfig(nodeType string, config map[string]any) []string {
	r.mu.RLock()
	e, ok := r.entries[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	var msgs []string
	for _, key := range e.required {
		if str(config, key, "") == "" {
			msgs = append(msgs, fmt.Sprintf("%q is required.", key))
		}
	}
	return msgs
}

var _ dag.Catalog = (*Registry)(nil)
