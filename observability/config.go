package observability

import (
	"fmt"
	"time"
)

// Config is the observability section of the service config.
type Config struct {
	// Tracing enables the OTLP trace exporter.
	Tracing bool `mapstructure:"tracing" json:"tracing"`
	// Metrics enables the OTLP metric exporter.
	Metrics bool `mapstructure:"metrics" json:"metrics"`
	// Endpoint is the OTLP HTTP host:port.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	Insecure bool   `mapstructure:"insecure" json:"insecure"`
	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `mapstructure:"sample_rate" json:"sample_rate"`
	// Interval is the metric export period.
	Interval time.Duration `mapstructure:"interval" json:"interval"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("observability: sample_rate must be between 0 and 1, got %v", c.SampleRate)
	}
	if c.Interval < 0 {
		return fmt.Errorf("observability: interval must not be negative")
	}
	if (c.Tracing || c.Metrics) && c.Endpoint == "" {
		return fmt.Errorf("observability: endpoint is required when exporting")
	}
	return nil
}

// TracerConfig configures the tracer provider.
func (c Config) TracerConfig(serviceName, version, environment string) TracerConfig {
	return TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    environment,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

// MeterConfig configures the meter provider.
func (c Config) MeterConfig(serviceName, version, environment string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    environment,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		Interval:       c.Interval,
	}
}
