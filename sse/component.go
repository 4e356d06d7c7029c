package sse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/devflow/component"
	"github.com/kbukum/devflow/logger"
)

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// Component owns the event Hub's loop for the lifetime of the server.
type Component struct {
	hub     *Hub
	route   string
	running atomic.Bool
	done    sync.WaitGroup
}

// NewComponent creates a component with a fresh Hub. route is the event
// stream route shown in the startup summary.
func NewComponent(route string, log *logger.Logger) *Component {
	return &Component{hub: NewHub(log), route: route}
}

// Hub returns the hub that run sinks broadcast to.
func (c *Component) Hub() *Hub { return c.hub }

func (c *Component) Name() string { return "sse" }

// Start launches the hub loop. Starting twice is a no-op.
func (c *Component) Start(_ context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	c.done.Add(1)
	go func() {
		defer c.done.Done()
		c.hub.Run()
	}()
	return nil
}

// Stop closes every open stream and waits for the loop to exit.
func (c *Component) Stop(_ context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.hub.Stop()
	c.done.Wait()
	return nil
}

// Health is unhealthy while the loop is not running, since run events
// would then go nowhere.
func (c *Component) Health(_ context.Context) component.Health {
	if !c.running.Load() {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "event hub stopped"}
	}
	return component.Healthy(c.Name(), fmt.Sprintf("%d event streams open", c.hub.ClientCount()))
}

func (c *Component) Describe() component.Description {
	return component.Description{Name: "Run events", Type: "sse", Details: "GET " + c.route}
}
