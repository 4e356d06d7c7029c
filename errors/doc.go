// Package errors provides the structured error type used across devflow.
// Every error carries a machine-readable code, an HTTP status for the
// control API and a retryable hint.
package errors
