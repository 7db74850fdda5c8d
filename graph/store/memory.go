package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore keeps steps and checkpoints in process memory. It is the default
// backend. Steps are kept until DeleteRun drops them.
type MemStore[S any] struct {
	mu          sync.RWMutex
	steps       map[string]map[int]StepRecord[S]
	checkpoints map[string]Checkpoint[S]
}

func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps:       make(map[string]map[int]StepRecord[S]),
		checkpoints: make(map[string]Checkpoint[S]),
	}
}

func (m *MemStore[S]) SaveStep(_ context.Context, runID string, step int, nodeID string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.steps[runID] == nil {
		m.steps[runID] = make(map[int]StepRecord[S])
	}
	m.steps[runID][step] = StepRecord[S]{Step: step, NodeID: nodeID, State: state}
	return nil
}

// DeleteRun drops every step of runID. Deleting an unknown run is a no-op.
func (m *MemStore[S]) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, runID)
	return nil
}

// Len returns the number of runs with stored steps.
func (m *MemStore[S]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.steps)
}

func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (state S, step int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[runID]
	if len(records) == 0 {
		var zero S
		return zero, 0, ErrNotFound
	}

	latest := -1
	for s := range records {
		if s > latest {
			latest = s
		}
	}
	return records[latest].State, latest, nil
}

func (m *MemStore[S]) LoadSteps(_ context.Context, runID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[runID]
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	out := make([]StepRecord[S], 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

func (m *MemStore[S]) SaveCheckpoint(_ context.Context, cpID string, state S, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cpID] = Checkpoint[S]{ID: cpID, State: state, Step: step}
	return nil
}

func (m *MemStore[S]) LoadCheckpoint(_ context.Context, cpID string) (state S, step int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[cpID]
	if !ok {
		var zero S
		return zero, 0, ErrNotFound
	}
	return cp.State, cp.Step, nil
}
