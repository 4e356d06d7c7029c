package archive

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/devflow/component"
	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/logger"
)

// Component owns the archive lifecycle. It is also an event subscriber
// that forwards to its Archiver once started, so it can be attached to
// runs before Start.
type Component struct {
	cfg Config
	log *logger.Logger

	mu       sync.RWMutex
	storage  Storage
	archiver *Archiver
}

// NewComponent creates an archive component for the component registry.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Component{cfg: cfg, log: log.WithComponent("archive")}
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
	_ event.Subscriber      = (*Component)(nil)
)

// Name returns the component name.
func (c *Component) Name() string { return "archive" }

// Start builds the configured storage backend.
func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("archive is disabled")
		return nil
	}
	s, err := New(ctx, c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("archive start: %w", err)
	}
	c.mu.Lock()
	c.storage = s
	c.archiver = NewArchiver(s, c.cfg.Prefix, c.log)
	c.mu.Unlock()
	return nil
}

// Stop drops the backend.
func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	c.storage = nil
	c.archiver = nil
	c.mu.Unlock()
	return nil
}

// Archiver returns the running archiver, or nil if disabled or stopped.
func (c *Component) Archiver() *Archiver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.archiver
}

// Handle implements event.Subscriber.
func (c *Component) Handle(e event.Event) {
	if a := c.Archiver(); a != nil {
		a.Handle(e)
	}
}

// Health lists the report prefix as a probe.
func (c *Component) Health(ctx context.Context) component.Health {
	if !c.cfg.Enabled {
		return component.Healthy(c.Name(), "disabled")
	}
	c.mu.RLock()
	s := c.storage
	c.mu.RUnlock()
	if s == nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "archive not initialized"}
	}
	if _, err := s.Exists(ctx, c.cfg.Prefix+"/.health"); err != nil {
		return component.Unhealthy(c.Name(), fmt.Errorf("health probe failed: %w", err))
	}
	return component.Healthy(c.Name(), "")
}

// Describe returns the startup summary line.
func (c *Component) Describe() component.Description {
	details := fmt.Sprintf("provider=%s", c.cfg.Provider)
	if c.cfg.Bucket != "" && c.cfg.Provider != ProviderLocal {
		details += fmt.Sprintf(" bucket=%s", c.cfg.Bucket)
	}
	if !c.cfg.Enabled {
		details = "disabled"
	}
	return component.Description{Name: "Archive", Type: "archive", Details: details}
}
