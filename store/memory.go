package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kbukum/devflow/checkpoint"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/scheduler"
)

// Memory is an in-process Repository. Reports are kept in save order.
type Memory struct {
	*checkpoint.Memory

	mu      sync.RWMutex
	reports map[string]*scheduler.Report
	order   []string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		Memory:  checkpoint.NewMemory(),
		reports: make(map[string]*scheduler.Report),
	}
}

// SaveReport stores or replaces a report.
func (m *Memory) SaveReport(_ context.Context, rep *scheduler.Report) error {
	if rep == nil || rep.RunID == "" {
		return errors.InvalidInput("report", "run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[rep.RunID]; !ok {
		m.order = append(m.order, rep.RunID)
	}
	cp := *rep
	m.reports[rep.RunID] = &cp
	return nil
}

// GetReport returns a report by run id.
func (m *Memory) GetReport(_ context.Context, runID string) (*scheduler.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.reports[runID]
	if !ok {
		return nil, errors.NotFound("run", runID)
	}
	return rep, nil
}

// ListReports returns a flow's reports, newest first.
func (m *Memory) ListReports(_ context.Context, flowID string, limit int) ([]*scheduler.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*scheduler.Report
	for _, id := range m.order {
		if rep := m.reports[id]; rep.FlowID == flowID {
			out = append(out, rep)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit = Limit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestReport returns the most recent report of a flow.
func (m *Memory) LatestReport(ctx context.Context, flowID string) (*scheduler.Report, error) {
	reps, err := m.ListReports(ctx, flowID, 1)
	if err != nil {
		return nil, err
	}
	if len(reps) == 0 {
		return nil, errors.NotFound("report for flow", flowID)
	}
	return reps[0], nil
}

var _ Repository = (*Memory)(nil)
