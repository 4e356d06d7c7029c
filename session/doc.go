// Package session owns the flows known to a devflow process and the runs
// started from them. It is the layer the HTTP API and the CLI drive:
// register a flow, start or resume a run, step it in debug mode, answer
// manual retries, and read reports back.
package session
