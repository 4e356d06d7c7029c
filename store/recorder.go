package store

import (
	"context"
	"time"

	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/logger"
)

// Recorder is an event subscriber that saves the final report of every
// run. Failures are logged and never reach the run.
type Recorder struct {
	repo    Repository
	log     *logger.Logger
	timeout time.Duration
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{repo: repo, log: log.WithComponent("recorder"), timeout: 10 * time.Second}
}

// Handle implements event.Subscriber.
func (r *Recorder) Handle(e event.Event) {
	if e.Type != event.RunFinished || e.Report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	if err := r.repo.SaveReport(ctx, e.Report); err != nil {
		r.log.WithRun(e.RunID, e.FlowID).Error("report not saved", logger.ErrorFields("save-report", err))
		return
	}
	r.log.WithRun(e.RunID, e.FlowID).Debug("report saved", logger.DurationFields("save-report", time.Since(start)))
}

var _ event.Subscriber = (*Recorder)(nil)
