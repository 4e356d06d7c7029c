package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/devflow/errors"
)

// Router dispatches a request to the executor registered for its profile.
type Router struct {
	mu    sync.RWMutex
	execs map[string]Executor
}

// NewRouter creates a router with native registered.
func NewRouter(native Executor) *Router {
	r := &Router{execs: make(map[string]Executor)}
	if native != nil {
		r.execs[ProfileNative] = native
	}
	return r
}

// Register binds an executor to a profile kind.
func (r *Router) Register(kind string, e Executor) {
	r.mu.Lock()
	r.execs[kind] = e
	r.mu.Unlock()
}

// Kinds lists registered profile kinds.
func (r *Router) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.execs))
	for k := range r.execs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Execute implements Executor.
func (r *Router) Execute(ctx context.Context, req Request) (*Result, error) {
	kind := req.Profile.KindOrDefault()
	r.mu.RLock()
	e, ok := r.execs[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ExecutorError(kind, fmt.Errorf("no executor registered for profile %q", kind))
	}
	return e.Execute(ctx, req)
}

var _ Executor = (*Router)(nil)
