// Package event carries run progress from the scheduler to observers.
//
// The scheduler publishes on a Bus owned by the run; observers such as the
// SSE sink, the report recorder and the tracer subscribe to it.
package event

import (
	"time"

	"github.com/kbukum/devflow/runstate"
)

// Type names a run or node transition.
type Type string

const (
	RunStarted    Type = "run.started"
	RunFinished   Type = "run.finished"
	NodePaused    Type = "node.paused"
	NodeStarted   Type = "node.started"
	NodeAttempt   Type = "node.attempt"
	NodeRetry     Type = "node.retry"
	NodeLog       Type = "node.log"
	NodeSucceeded Type = "node.succeeded"
	NodeFailed    Type = "node.failed"
	NodeSkipped   Type = "node.skipped"
	NodeAbandoned Type = "node.abandoned"
	// NodeAwaitingRetry is published when a manual retry waits for a decision.
	NodeAwaitingRetry Type = "node.awaiting_retry"
)

// Terminal reports whether the event ends a node's execution.
func (t Type) Terminal() bool {
	switch t {
	case NodeSucceeded, NodeFailed, NodeSkipped, NodeAbandoned:
		return true
	}
	return false
}

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	Type     Type   `json:"type"`
	RunID    string `json:"runId"`
	FlowID   string `json:"flowId"`
	NodeID   string `json:"nodeId,omitempty"`
	NodeType string `json:"nodeType,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Wave     int    `json:"wave,omitempty"`
	Status   string `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
	// Stream is "stdout" or "stderr" for node.log events.
	Stream  string                    `json:"stream,omitempty"`
	DelayMs int64                     `json:"delayMs,omitempty"`
	Record  *runstate.ExecutionRecord `json:"record,omitempty"`
	Report  *runstate.Report          `json:"report,omitempty"`
	Time    time.Time                 `json:"time"`
}
