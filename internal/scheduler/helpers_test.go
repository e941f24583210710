package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/filtergrid/internal/filter"
	"github.com/vk/filtergrid/internal/nodegraph"
)

// harness builds graphs whose filters hand out manually completed tasks.
type harness struct {
	t *testing.T
	g *nodegraph.Graph

	mu      sync.Mutex
	stale   map[nodegraph.ID]bool
	tasks   map[nodegraph.ID]*filter.Task
	started []nodegraph.ID
	startCh chan nodegraph.ID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:       t,
		g:       nodegraph.New(),
		stale:   make(map[nodegraph.ID]bool),
		tasks:   make(map[nodegraph.ID]*filter.Task),
		startCh: make(chan nodegraph.ID, 128),
	}
}

func (h *harness) data(ids ...nodegraph.ID) {
	for _, id := range ids {
		h.g.AddNode(id, nodegraph.KindOther, "volume")
	}
}

func (h *harness) filters(ids ...nodegraph.ID) {
	for _, id := range ids {
		h.filterOf(id, "filter", true)
	}
}

func (h *harness) filterOf(id nodegraph.ID, prototype string, stale bool) {
	h.t.Helper()
	h.g.AddNode(id, nodegraph.KindFilter, prototype)
	h.stale[id] = stale
	require.NoError(h.t, h.g.SetFilter(id, filter.HandleFunc{
		Stale: func() bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.stale[id]
		},
		Start: func(ctx context.Context) filter.AsyncTask {
			task := filter.NewTask(ctx)
			h.mu.Lock()
			h.tasks[id] = task
			h.started = append(h.started, id)
			h.mu.Unlock()
			h.startCh <- id
			return task
		},
	}))
}

func (h *harness) chain(ids ...nodegraph.ID) {
	h.t.Helper()
	for i := 1; i < len(ids); i++ {
		require.NoError(h.t, h.g.Connect(ids[i-1], ids[i]))
	}
}

func (h *harness) build(skipUnchanged bool, ids ...nodegraph.ID) *Scheduler {
	h.t.Helper()
	s, err := Build(context.Background(), h.g, RunSet{Filters: ids, SkipUnchanged: skipUnchanged})
	require.NoError(h.t, err)
	return s
}

// waitStarted blocks until every id has been started, in any order.
func (h *harness) waitStarted(ids ...nodegraph.ID) {
	h.t.Helper()
	want := make(map[nodegraph.ID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for len(want) > 0 {
		select {
		case id := <-h.startCh:
			require.True(h.t, want[id], "unexpected filter started: %s", id)
			delete(want, id)
		case <-time.After(2 * time.Second):
			require.Fail(h.t, "timed out waiting for filters to start", "missing: %v", want)
		}
	}
}

func (h *harness) expectNoStart() {
	h.t.Helper()
	select {
	case id := <-h.startCh:
		require.Fail(h.t, "filter started too early", "filter: %s", id)
	case <-time.After(30 * time.Millisecond):
	}
}

func (h *harness) task(id nodegraph.ID) *filter.Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	task, ok := h.tasks[id]
	require.True(h.t, ok, "filter %s was never started", id)
	return task
}

func (h *harness) complete(id nodegraph.ID, err error) {
	h.t.Helper()
	h.task(id).Complete(err)
}

func (h *harness) startedOrder() []nodegraph.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]nodegraph.ID(nil), h.started...)
}

func wait(t *testing.T, s *Scheduler) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-s.Operation().Done():
		return s.Operation().Err()
	case <-ctx.Done():
		require.Fail(t, "operation did not finish", "states: %v", s.States())
		return nil
	}
}
