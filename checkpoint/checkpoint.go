// Package checkpoint records, per flow, the node a failed run should
// resume from.
package checkpoint

import (
	"context"
	"sync"
)

// Tracker stores one optional checkpoint node id per flow.
// Setting an empty node id clears the checkpoint.
type Tracker interface {
	Get(ctx context.Context, flowID string) (nodeID string, ok bool, err error)
	Set(ctx context.Context, flowID, nodeID string) error
}

// Memory is an in-process Tracker.
type Memory struct {
	mu     sync.RWMutex
	points map[string]string
}

// NewMemory creates an empty in-memory tracker.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]string)}
}

// Get returns the checkpoint for a flow.
func (m *Memory) Get(_ context.Context, flowID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.points[flowID]
	return id, ok, nil
}

// Set records or clears the checkpoint for a flow.
func (m *Memory) Set(_ context.Context, flowID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if nodeID == "" {
		delete(m.points, flowID)
		return nil
	}
	m.points[flowID] = nodeID
	return nil
}

var _ Tracker = (*Memory)(nil)
