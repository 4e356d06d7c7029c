package debug

import (
	"context"
	"sort"
	"sync"

	"github.com/kbukum/devflow/errors"
)

// Decision is the outcome of a pause.
type Decision int

const (
	// Proceed lets the node execute.
	Proceed Decision = iota
	// Abandon leaves the node unexecuted.
	Abandon
)

func (d Decision) String() string {
	if d == Proceed {
		return "proceed"
	}
	return "abandon"
}

// Controller gates node execution for interactive single-stepping. Each
// paused node waits on its own one-shot channel.
type Controller struct {
	mu      sync.Mutex
	enabled bool
	pending map[string]chan Decision
	// OnPause runs after a node registers its pause and before it blocks.
	OnPause func(nodeID string)
}

// NewController creates a controller with debug mode off.
func NewController() *Controller {
	return &Controller{pending: make(map[string]chan Decision)}
}

// Enable turns debug mode on.
func (c *Controller) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

// Enabled reports whether debug mode is on.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Pause blocks until the node is stepped, debugging stops or ctx ends.
// It returns Proceed immediately when debug mode is off.
func (c *Controller) Pause(ctx context.Context, nodeID string) Decision {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return Proceed
	}
	ch := make(chan Decision, 1)
	c.pending[nodeID] = ch
	onPause := c.OnPause
	c.mu.Unlock()

	if onPause != nil {
		onPause(nodeID)
	}

	select {
	case d := <-ch:
		return d
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending[nodeID] == ch {
			delete(c.pending, nodeID)
		}
		c.mu.Unlock()
		return Abandon
	}
}

// Step releases a paused node.
func (c *Controller) Step(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[nodeID]
	if !ok {
		return errors.NotFound("paused node", nodeID)
	}
	delete(c.pending, nodeID)
	ch <- Proceed
	return nil
}

// StepAll releases every paused node and returns their ids.
func (c *Controller) StepAll() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := sortedKeys(c.pending)
	for _, id := range ids {
		c.pending[id] <- Proceed
		delete(c.pending, id)
	}
	return ids
}

// Stop disables debug mode and abandons every pending pause. Nodes that
// are already running are unaffected.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	for id, ch := range c.pending {
		ch <- Abandon
		delete(c.pending, id)
	}
}

// Paused returns the sorted ids of nodes waiting for a step.
func (c *Controller) Paused() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.pending)
}

func sortedKeys(m map[string]chan Decision) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
