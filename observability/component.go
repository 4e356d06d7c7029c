package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/devflow/component"
	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/logger"
)

// Component installs the exporters on Start and flushes them on Stop.
// Its Subscriber records on the global providers, so it may be attached
// to runs before Start.
type Component struct {
	cfg         Config
	service     string
	version     string
	environment string
	log         *logger.Logger

	tp  *sdktrace.TracerProvider
	mp  *sdkmetric.MeterProvider
	sub *Subscriber
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
	_ event.Subscriber      = (*Component)(nil)
)

// NewComponent creates the telemetry component.
func NewComponent(cfg Config, service, version, environment string, log *logger.Logger) (*Component, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	metrics, err := NewMetrics(otel.Meter(InstrumentationName))
	if err != nil {
		return nil, err
	}
	return &Component{
		cfg:         cfg,
		service:     service,
		version:     version,
		environment: environment,
		log:         log.WithComponent("observability"),
		sub:         NewSubscriber(WithMetrics(metrics)),
	}, nil
}

// Name returns the component name.
func (c *Component) Name() string { return "observability" }

// Subscriber returns the run event subscriber.
func (c *Component) Subscriber() *Subscriber { return c.sub }

// Handle implements event.Subscriber.
func (c *Component) Handle(e event.Event) { c.sub.Handle(e) }

// Start creates the enabled exporters.
func (c *Component) Start(ctx context.Context) error {
	if c.cfg.Tracing {
		tp, err := InitTracer(ctx, c.cfg.TracerConfig(c.service, c.version, c.environment), c.log)
		if err != nil {
			return fmt.Errorf("observability start: %w", err)
		}
		c.tp = tp
	}
	if c.cfg.Metrics {
		mp, err := InitMeter(ctx, c.cfg.MeterConfig(c.service, c.version, c.environment), c.log)
		if err != nil {
			return fmt.Errorf("observability start: %w", err)
		}
		c.mp = mp
	}
	return nil
}

// Stop flushes and shuts down the exporters.
func (c *Component) Stop(ctx context.Context) error {
	var errs []error
	if c.tp != nil {
		errs = append(errs, c.tp.Shutdown(ctx))
		c.tp = nil
	}
	if c.mp != nil {
		errs = append(errs, c.mp.Shutdown(ctx))
		c.mp = nil
	}
	return errors.Join(errs...)
}

// Health reports open spans.
func (c *Component) Health(_ context.Context) component.Health {
	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d open spans", c.sub.Open()),
	}
}

// Describe returns the startup summary line.
func (c *Component) Describe() component.Description {
	details := "disabled"
	if c.cfg.Tracing || c.cfg.Metrics {
		details = fmt.Sprintf("endpoint=%s tracing=%t metrics=%t", c.cfg.Endpoint, c.cfg.Tracing, c.cfg.Metrics)
	}
	return component.Description{Name: "Telemetry", Type: "otel", Details: details}
}
