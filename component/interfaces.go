package component

import "context"

// HealthStatus is the state a component reports to the probes.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health is one component's entry in the health report.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Healthy reports name as healthy with an optional note.
func Healthy(name, note string) Health {
	return Health{Name: name, Status: StatusHealthy, Message: note}
}

// Unhealthy reports name as unhealthy because of err.
func Unhealthy(name string, err error) Health {
	h := Health{Name: name, Status: StatusUnhealthy}
	if err != nil {
		h.Message = err.Error()
	}
	return h
}

// Component is a lifecycle-managed piece of the devflow process: the
// report store, the HTTP server, the telemetry exporters. Start runs in
// registration order and Stop in reverse.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Description is a one-line self-report printed at startup.
type Description struct {
	Name    string
	Type    string
	Details string
}

// Describable is optionally implemented by components that report how
// they are configured.
type Describable interface {
	Describe() Description
}
