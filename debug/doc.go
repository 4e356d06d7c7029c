// Package debug implements step-through execution. With debug mode on,
// every node pauses before it runs and waits for an explicit step.
package debug
