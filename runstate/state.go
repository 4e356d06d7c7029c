// Package runstate holds the mutable state of a single run: node statuses
// and the execution timeline.
package runstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/devflow/dag"
)

// Status is the run status of a node.
type Status string

const (
	Idle    Status = "idle"
	Running Status = "running"
	Success Status = "success"
	Error   Status = "error"
	Skipped Status = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Success || s == Error || s == Skipped
}

var transitions = map[Status][]Status{
	Idle:    {Running, Skipped},
	Running: {Success, Error},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Metrics are resource peaks sampled while a node runs.
type Metrics struct {
	CPUPeak   float64 `json:"cpuPeak"`
	MemPeakMB float64 `json:"memPeakMb"`
}

// ExecutionRecord is one timeline entry.
type ExecutionRecord struct {
	NodeID      string     `json:"nodeId"`
	NodeLabel   string     `json:"nodeLabel"`
	NodeType    string     `json:"nodeType"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	DurationMs  int64      `json:"durationMs"`
	MaxCPU      float64    `json:"maxCpu"`
	MaxMemoryMB float64    `json:"maxMemoryMb"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of a State.
type Snapshot struct {
	Statuses map[string]Status `json:"statuses"`
	Timeline []ExecutionRecord `json:"timeline"`
}

// State is safe for concurrent use. Each node is written by one goroutine
// at a time.
type State struct {
	mu       sync.RWMutex
	statuses map[string]Status
	timeline []*ExecutionRecord
	now      func() time.Time
}

// New creates an empty state.
func New() *State {
	return &State{statuses: make(map[string]Status), now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *State) WithClock(now func() time.Time) *State {
	s.now = now
	return s
}

// Reset sets every given node to idle.
func (s *State) Reset(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.statuses[id] = Idle
	}
}

// Restore loads statuses and records from a previous run.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range snap.Statuses {
		s.statuses[id] = st
	}
	s.timeline = s.timeline[:0]
	for i := range snap.Timeline {
		rec := snap.Timeline[i]
		s.timeline = append(s.timeline, &rec)
	}
}

// Status returns the status of a node, idle if unknown.
func (s *State) Status(id string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.statuses[id]; ok {
		return st
	}
	return Idle
}

func (s *State) setLocked(id string, to Status) error {
	from, ok := s.statuses[id]
	if !ok {
		from = Idle
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("runstate: node %q cannot move from %s to %s", id, from, to)
	}
	s.statuses[id] = to
	return nil
}

// Start marks a node running and opens its record. A record left over
// from a previous run of the same node is replaced.
func (s *State) Start(node dag.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setLocked(node.ID, Running); err != nil {
		return err
	}
	s.dropRecordLocked(node.ID)
	s.timeline = append(s.timeline, &ExecutionRecord{
		NodeID:    node.ID,
		NodeLabel: node.DisplayName(),
		NodeType:  node.Type,
		Status:    Running,
		StartedAt: s.now(),
	})
	return nil
}

// Finish closes the record of a running node.
func (s *State) Finish(id string, status Status, m Metrics, attempts int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setLocked(id, status); err != nil {
		return err
	}
	rec := s.recordLocked(id)
	if rec == nil {
		return fmt.Errorf("runstate: node %q has no open record", id)
	}
	finished := s.now()
	rec.Status = status
	rec.FinishedAt = &finished
	rec.DurationMs = finished.Sub(rec.StartedAt).Milliseconds()
	rec.MaxCPU = m.CPUPeak
	rec.MaxMemoryMB = m.MemPeakMB
	rec.Attempts = attempts
	rec.Error = errMsg
	return nil
}

// Skip marks an idle node skipped with a zero-duration record.
func (s *State) Skip(node dag.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setLocked(node.ID, Skipped); err != nil {
		return err
	}
	now := s.now()
	s.dropRecordLocked(node.ID)
	s.timeline = append(s.timeline, &ExecutionRecord{
		NodeID:     node.ID,
		NodeLabel:  node.DisplayName(),
		NodeType:   node.Type,
		Status:     Skipped,
		StartedAt:  now,
		FinishedAt: &now,
	})
	return nil
}

// Record returns a copy of the latest record for a node.
func (s *State) Record(id string) (ExecutionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec := s.recordLocked(id); rec != nil {
		return *rec, true
	}
	return ExecutionRecord{}, false
}

// Count returns how many nodes have status st.
func (s *State) Count(st Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.statuses {
		if v == st {
			n++
		}
	}
	return n
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Statuses: make(map[string]Status, len(s.statuses)),
		Timeline: make([]ExecutionRecord, 0, len(s.timeline)),
	}
	for id, st := range s.statuses {
		snap.Statuses[id] = st
	}
	for _, rec := range s.timeline {
		snap.Timeline = append(snap.Timeline, *rec)
	}
	return snap
}

func (s *State) recordLocked(id string) *ExecutionRecord {
	for i := len(s.timeline) - 1; i >= 0; i-- {
		if s.timeline[i].NodeID == id {
			return s.timeline[i]
		}
	}
	return nil
}

func (s *State) dropRecordLocked(id string) {
	kept := s.timeline[:0]
	for _, rec := range s.timeline {
		if rec.NodeID != id {
			kept = append(kept, rec)
		}
	}
	s.timeline = kept
}
