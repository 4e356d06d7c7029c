// Package logger provides structured logging for devflow using zerolog.
//
// Loggers are scoped by component, and by run and node while a flow executes:
//
//	log := logger.WithComponent("scheduler").WithRun(runID, flowID)
//	log.Info("wave started", logger.Fields("wave", 2, "size", 3))
package logger
