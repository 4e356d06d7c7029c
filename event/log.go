package event

import (
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/runstate"
)

// LogSubscriber writes every event to a logger.
type LogSubscriber struct {
	log *logger.Logger
}

// NewLogSubscriber creates a subscriber logging through log.
func NewLogSubscriber(log *logger.Logger) *LogSubscriber {
	return &LogSubscriber{log: log.WithComponent("run")}
}

// Handle logs e at a level matching its type. node.log lines go to debug.
func (s *LogSubscriber) Handle(e Event) {
	fields := map[string]interface{}{
		logger.FieldRunID:  e.RunID,
		logger.FieldFlowID: e.FlowID,
	}
	if e.NodeID != "" {
		fields[logger.FieldNodeID] = e.NodeID
	}
	if e.NodeType != "" {
		fields[logger.FieldNodeType] = e.NodeType
	}
	if e.Attempt > 0 {
		fields[logger.FieldAttempt] = e.Attempt
	}
	if e.Status != "" {
		fields[logger.FieldStatus] = e.Status
	}
	if e.Stream != "" {
		fields["stream"] = e.Stream
	}
	if e.Record != nil && e.Record.FinishedAt != nil {
		fields[logger.FieldDuration] = e.Record.DurationMs
	}

	msg := string(e.Type)
	if e.Message != "" {
		msg += ": " + e.Message
	}

	switch e.Type {
	case NodeLog:
		s.log.Debug(msg, fields)
	case NodeFailed, NodeRetry:
		s.log.Warn(msg, fields)
	case RunFinished:
		if e.Report != nil && e.Report.Checkpoint != "" {
			fields["checkpoint"] = e.Report.Checkpoint
		}
		if e.Status == string(runstate.RunFailed) {
			s.log.Error(msg, fields)
			return
		}
		s.log.Info(msg, fields)
	default:
		s.log.Info(msg, fields)
	}
}
