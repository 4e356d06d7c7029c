// Package endpoint serves the operational endpoints of the devflow server:
// /health, /livez, /readyz and /info.
package endpoint

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/devflow/component"
	"github.com/kbukum/devflow/version"
)

// HealthChecker returns health status for registered components.
type HealthChecker func(ctx context.Context) []component.Health

// Overall status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probes answers health probes for one service. Readiness fails once the
// server starts draining so load balancers stop routing new runs to it.
type Probes struct {
	service  string
	checker  HealthChecker
	started  time.Time
	runs     atomic.Pointer[func() int]
	draining atomic.Bool
}

// NewProbes creates probes for service. A nil checker reports no components.
func NewProbes(service string, checker HealthChecker) *Probes {
	return &Probes{service: service, checker: checker, started: time.Now()}
}

// CountRuns makes /health and /info report the number of runs in flight.
func (p *Probes) CountRuns(fn func() int) {
	p.runs.Store(&fn)
}

// Drain marks the service as shutting down.
func (p *Probes) Drain() {
	p.draining.Store(true)
}

// Register mounts the probe routes.
func (p *Probes) Register(r gin.IRoutes) {
	r.GET("/health", p.Health)
	r.GET("/livez", p.Liveness)
	r.GET("/readyz", p.Readiness)
	r.GET("/info", p.Info)
}

// Health reports the aggregate and per-component status. It answers 503
// when any component is unhealthy.
func (p *Probes) Health(c *gin.Context) {
	components := p.check(c.Request.Context())
	status := Aggregate(components)

	body := gin.H{
		"status":     status,
		"service":    p.service,
		"timestamp":  now(),
		"components": components,
	}
	if n, ok := p.activeRuns(); ok {
		body["active_runs"] = n
	}
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}

// Liveness answers 200 while the process serves requests.
func (p *Probes) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "service": p.service, "timestamp": now()})
}

// Readiness answers 503 while draining or while a component is unhealthy.
func (p *Probes) Readiness(c *gin.Context) {
	status, code := "ready", http.StatusOK
	switch {
	case p.draining.Load():
		status, code = "draining", http.StatusServiceUnavailable
	case Aggregate(p.check(c.Request.Context())) == StatusUnhealthy:
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "service": p.service, "timestamp": now()})
}

// Info reports the build and uptime.
func (p *Probes) Info(c *gin.Context) {
	body := gin.H{
		"service":   p.service,
		"build":     version.Get(),
		"uptime":    time.Since(p.started).Round(time.Second).String(),
		"timestamp": now(),
	}
	if n, ok := p.activeRuns(); ok {
		body["active_runs"] = n
	}
	c.JSON(http.StatusOK, body)
}

// Aggregate folds component states: any unhealthy wins, then degraded.
func Aggregate(components []component.Health) string {
	status := StatusHealthy
	for _, h := range components {
		switch h.Status {
		case component.StatusUnhealthy:
			return StatusUnhealthy
		case component.StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (p *Probes) check(ctx context.Context) []component.Health {
	if p.checker == nil {
		return nil
	}
	return p.checker(ctx)
}

func (p *Probes) activeRuns() (int, bool) {
	fn := p.runs.Load()
	if fn == nil {
		return 0, false
	}
	return (*fn)(), true
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
