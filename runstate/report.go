package runstate

import "time"

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunSuccess    RunStatus = "success"
	RunFailed     RunStatus = "failed"
	RunIncomplete RunStatus = "incomplete"
)

// Report is the summary of a finished (or in-flight) run.
type Report struct {
	RunID      string            `json:"runId"`
	FlowID     string            `json:"flowId"`
	Status     RunStatus         `json:"status"`
	ResumeFrom string            `json:"resumeFrom,omitempty"`
	Debug      bool              `json:"debug,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	DurationMs int64             `json:"durationMs"`
	Statuses   map[string]Status `json:"statuses"`
	Timeline   []ExecutionRecord `json:"timeline"`
	Checkpoint string            `json:"checkpoint,omitempty"`
	Abandoned  []string          `json:"abandoned,omitempty"`
	// Unscheduled lists nodes left behind by a cycle.
	Unscheduled []string `json:"unscheduled,omitempty"`
}

// Snapshot returns the node statuses and timeline of the report.
func (r *Report) Snapshot() Snapshot {
	return Snapshot{Statuses: r.Statuses, Timeline: r.Timeline}
}

// Outcome derives the run status from node statuses. A run with an
// errored node is failed; otherwise abandoned or unfinished nodes make it
// incomplete.
func Outcome(statuses map[string]Status, interrupted bool) RunStatus {
	pending := false
	for _, st := range statuses {
		if st == Error {
			return RunFailed
		}
		if !st.Terminal() {
			pending = true
		}
	}
	if interrupted || pending {
		return RunIncomplete
	}
	return RunSuccess
}
