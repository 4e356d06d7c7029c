package retry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/devflow/errors"
)

// DefaultManualTimeout is how long a manual retry waits for a decision.
const DefaultManualTimeout = 120 * time.Second

// ManualGate is a Gate resolved from outside the run. Each waiting node
// gets a one-shot channel. A timeout counts as a cancel.
type ManualGate struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]chan bool
	// OnAwait runs once the node is registered, before it blocks.
	OnAwait func(nodeID string, attempt int)
}

// NewManualGate creates a gate. A non-positive timeout uses
// DefaultManualTimeout.
func NewManualGate(timeout time.Duration) *ManualGate {
	if timeout <= 0 {
		timeout = DefaultManualTimeout
	}
	return &ManualGate{timeout: timeout, pending: make(map[string]chan bool)}
}

// Await implements Gate.
func (g *ManualGate) Await(ctx context.Context, nodeID string, attempt int) bool {
	ch := make(chan bool, 1)
	g.mu.Lock()
	g.pending[nodeID] = ch
	onAwait := g.OnAwait
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.pending[nodeID] == ch {
			delete(g.pending, nodeID)
		}
		g.mu.Unlock()
	}()

	if onAwait != nil {
		onAwait(nodeID, attempt)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case ok := <-ch:
		return ok
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Confirm lets a waiting node retry.
func (g *ManualGate) Confirm(nodeID string) error {
	return g.resolve(nodeID, true)
}

// Cancel stops a waiting node's retries.
func (g *ManualGate) Cancel(nodeID string) error {
	return g.resolve(nodeID, false)
}

// Pending returns the sorted ids of nodes waiting for a decision.
func (g *ManualGate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *ManualGate) resolve(nodeID string, ok bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, found := g.pending[nodeID]
	if !found {
		return errors.NotFound("pending retry", nodeID)
	}
	delete(g.pending, nodeID)
	ch <- ok
	return nil
}

var _ Gate = (*ManualGate)(nil)
