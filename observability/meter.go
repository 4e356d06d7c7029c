package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/devflow/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// InitMeter installs a periodic OTLP meter provider as the global
// provider. The caller shuts it down on exit.
func InitMeter(ctx context.Context, cfg MeterConfig, log *logger.Logger) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	if log != nil {
		log.Info("meter initialized", logger.Fields(
			"endpoint", cfg.Endpoint,
			"interval", cfg.Interval.String(),
		))
	}
	return mp, nil
}

// Metrics holds the run and node instruments.
type Metrics struct {
	nodeTotal    metric.Int64Counter
	nodeDuration metric.Float64Histogram
	nodeRetries  metric.Int64Counter
	runTotal     metric.Int64Counter
	runDuration  metric.Float64Histogram
	runsActive   metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	nodeTotal, err := meter.Int64Counter("devflow.node.outcomes",
		metric.WithDescription("Node outcomes by type and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating devflow.node.outcomes counter: %w", err)
	}

	nodeDuration, err := meter.Float64Histogram("devflow.node.duration",
		metric.WithDescription("Duration of executed nodes in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating devflow.node.duration histogram: %w", err)
	}

	nodeRetries, err := meter.Int64Counter("devflow.node.retries",
		metric.WithDescription("Retries scheduled after a failed attempt"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating devflow.node.retries counter: %w", err)
	}

	runTotal, err := meter.Int64Counter("devflow.run.outcomes",
		metric.WithDescription("Finished runs by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating devflow.run.outcomes counter: %w", err)
	}

	runDuration, err := meter.Float64Histogram("devflow.run.duration",
		metric.WithDescription("Duration of runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating devflow.run.duration histogram: %w", err)
	}

	runsActive, err := meter.Int64UpDownCounter("devflow.run.active",
		metric.WithDescription("Runs currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating devflow.run.active counter: %w", err)
	}

	return &Metrics{
		nodeTotal:    nodeTotal,
		nodeDuration: nodeDuration,
		nodeRetries:  nodeRetries,
		runTotal:     runTotal,
		runDuration:  runDuration,
		runsActive:   runsActive,
	}, nil
}

// RecordRunStart increments the active run count.
func (m *Metrics) RecordRunStart(ctx context.Context, flowID string) {
	m.runsActive.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrFlowID, flowID)))
}

// RecordRunEnd decrements active runs and records the outcome.
func (m *Metrics) RecordRunEnd(ctx context.Context, flowID, status string, d time.Duration) {
	flow := attribute.String(AttrFlowID, flowID)
	m.runsActive.Add(ctx, -1, metric.WithAttributes(flow))
	m.runTotal.Add(ctx, 1, metric.WithAttributes(flow, attribute.String(AttrStatus, status)))
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(flow))
}

// RecordNode records a node outcome. A zero duration skips the histogram.
func (m *Metrics) RecordNode(ctx context.Context, nodeType, status string, d time.Duration) {
	typ := attribute.String(AttrNodeType, nodeType)
	m.nodeTotal.Add(ctx, 1, metric.WithAttributes(typ, attribute.String(AttrStatus, status)))
	if d > 0 {
		m.nodeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(typ))
	}
}

// RecordRetry counts a scheduled retry.
func (m *Metrics) RecordRetry(ctx context.Context, nodeType string) {
	m.nodeRetries.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrNodeType, nodeType)))
}
