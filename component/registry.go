package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/devflow/logger"
)

// DefaultStopTimeout bounds each component's Stop call.
const DefaultStopTimeout = 10 * time.Second

type slot struct {
	c       Component
	running bool
}

// Registry owns the process components. Start follows registration
// order, so register a component after the ones it depends on.
type Registry struct {
	mu     sync.RWMutex
	slots  []*slot
	byName map[string]*slot
	log    *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{byName: make(map[string]*slot), log: log.WithComponent("components")}
}

// Register adds c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("component %s already registered", name)
	}
	s := &slot{c: c}
	r.slots = append(r.slots, s)
	r.byName[name] = s
	r.log.Debug("Component registered", map[string]interface{}{"name": name})
	return nil
}

// StartAll starts every component in order and stops at the first
// failure. Components started before it stay running until StopAll.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		name := s.c.Name()
		if err := s.c.Start(ctx); err != nil {
			r.log.Error("Component start failed", map[string]interface{}{"name": name, "error": err.Error()})
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		s.running = true
		r.log.Info("Component started", describe(s.c))
	}
	return nil
}

func describe(c Component) map[string]interface{} {
	fields := map[string]interface{}{"name": c.Name()}
	if d, ok := c.(Describable); ok {
		desc := d.Describe()
		fields["type"] = desc.Type
		fields["details"] = desc.Details
	}
	return fields
}

// StopAll stops running components in reverse order, giving each one
// DefaultStopTimeout. Every failure is reported in the joined error.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for i := len(r.slots) - 1; i >= 0; i-- {
		s := r.slots[i]
		if !s.running {
			continue
		}
		if err := r.stop(ctx, s); err != nil {
			errs = append(errs, err)
		}
		s.running = false
	}
	return errors.Join(errs...)
}

func (r *Registry) stop(ctx context.Context, s *slot) error {
	name := s.c.Name()
	stopCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
	defer cancel()
	if err := s.c.Stop(stopCtx); err != nil {
		r.log.Error("Component stop failed", map[string]interface{}{"name": name, "error": err.Error()})
		return fmt.Errorf("failed to stop %s: %w", name, err)
	}
	r.log.Debug("Component stopped", map[string]interface{}{"name": name})
	return nil
}

// HealthAll collects every component's health in registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Health, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s.c.Health(ctx))
	}
	return out
}

// Get returns the named component or nil.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byName[name]; ok {
		return s.c
	}
	return nil
}

func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s.c)
	}
	return out
}
