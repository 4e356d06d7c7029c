// Package store persists run reports and flow checkpoints.
//
// Repository is implemented in memory here and by the sqlite and postgres
// subpackages. Recorder saves every finished run through a Repository.
package store

import (
	"context"

	"github.com/kbukum/devflow/checkpoint"
	"github.com/kbukum/devflow/scheduler"
)

// Drivers accepted by Config.Driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultListLimit caps ListReports when no limit is given.
const DefaultListLimit = 50

// Repository stores reports and checkpoints. Lookups of missing records
// return a NOT_FOUND AppError.
type Repository interface {
	checkpoint.Tracker

	SaveReport(ctx context.Context, rep *scheduler.Report) error
	GetReport(ctx context.Context, runID string) (*scheduler.Report, error)
	// ListReports returns the newest reports of a flow first.
	ListReports(ctx context.Context, flowID string, limit int) ([]*scheduler.Report, error)
	LatestReport(ctx context.Context, flowID string) (*scheduler.Report, error)
}

// Limit normalizes a list limit.
func Limit(n int) int {
	if n <= 0 || n > 1000 {
		return DefaultListLimit
	}
	return n
}
