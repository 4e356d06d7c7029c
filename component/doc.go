// Package component defines lifecycle-managed parts of a devflow process.
//
// The serve command registers the report store, the telemetry exporters
// and the HTTP server with a Registry, which starts them in order and
// stops them in reverse.
package component
