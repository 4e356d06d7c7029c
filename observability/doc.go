// Package observability exports run telemetry through OpenTelemetry.
//
// InitTracer and InitMeter install OTLP/HTTP exporters on the global
// providers. Subscriber turns the event stream of a run into one span per
// run, a child span per executed node, and node and run metrics.
package observability
