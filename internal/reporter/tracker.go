package reporter

import (
	"context"
	"sync"

	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/vk/filtergrid/internal/operation"
	"github.com/vk/filtergrid/internal/scheduler"
)

// Snapshot is the last known state of a run.
type Snapshot struct {
	ID       string            `json:"id"`
	Progress float64           `json:"progress"`
	Finished bool              `json:"finished"`
	Error    string            `json:"error,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Tracker keeps the latest Snapshot for readers on other goroutines.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a tracker for operation id.
func NewTracker(id string) *Tracker {
	return &Tracker{snap: Snapshot{ID: id, Filters: make(map[string]string)}}
}

// NodeChanged implements Sink.
func (t *Tracker) NodeChanged(_ context.Context, ev scheduler.NodeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Filters[string(ev.NodeID)] = ev.State.String()
}

// OperationChanged implements Sink.
func (t *Tracker) OperationChanged(_ context.Context, ev operation.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Progress = ev.Progress
	if ev.Err != nil {
		t.snap.Error = ev.Err.Error()
	}
}

// MarkFinished records the final outcome of the run.
func (t *Tracker) MarkFinished(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Finished = true
	if err != nil {
		t.snap.Error = err.Error()
	} else {
		t.snap.Progress = 1
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	s.Filters = make(map[string]string, len(t.snap.Filters))
	for id, st := range t.snap.Filters {
		s.Filters[id] = st
	}
	return s
}

// State returns the last reported state of a filter.
func (t *Tracker) State(id nodegraph.ID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.snap.Filters[string(id)]
	return st, ok
}
