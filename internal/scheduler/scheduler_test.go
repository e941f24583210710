package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/filtergrid/internal/filter"
	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/vk/filtergrid/internal/pubsub"
)

func TestExecute_ChainRunsInOrder(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	h := newHarness(t)
	h.filters("A", "B", "C")
	h.chain("A", "B", "C")
	s := h.build(false, "A", "B", "C")

	// --- Act ---
	require.NoError(t, s.Execute(context.Background(), true))

	// --- Assert ---
	h.waitStarted("A")
	h.expectNoStart()
	h.complete("A", nil)

	h.waitStarted("B")
	h.expectNoStart()
	h.complete("B", nil)

	h.waitStarted("C")
	h.complete("C", nil)

	require.NoError(t, wait(t, s))
	assert.Equal(t, []nodegraph.ID{"A", "B", "C"}, h.startedOrder())
	assert.Equal(t, map[nodegraph.ID]State{"A": Finished, "B": Finished, "C": Finished}, s.States())
	assert.Equal(t, 1.0, s.Operation().Progress())
}

func TestExecute_IndependentFiltersRunConcurrently(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.filters("A", "B")
	s := h.build(false, "A", "B")

	require.NoError(t, s.Execute(context.Background(), true))
	h.waitStarted("A", "B")

	h.complete("B", nil)
	select {
	case <-s.Operation().Done():
		require.Fail(t, "operation finished before every filter completed")
	default:
	}

	h.complete("A", nil)
	require.NoError(t, wait(t, s))
}

func TestExecute_FailureCancelsDescendants(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.filters("A", "B", "C")
	h.chain("A", "B", "C")
	s := h.build(false, "A", "B", "C")

	require.NoError(t, s.Execute(context.Background(), true))
	h.waitStarted("A")
	boom := errors.New("segmentation diverged")
	h.complete("A", boom)

	err := wait(t, s)
	require.ErrorIs(t, err, ErrFiltersFailed)
	assert.EqualError(t, err, "one or more filters failed or were cancelled")
	assert.Equal(t, []nodegraph.ID{"A"}, h.startedOrder())
	assert.Equal(t, map[nodegraph.ID]State{"A": Failed, "B": Cancelled, "C": Cancelled}, s.States())

	a, ok := s.Node("A")
	require.True(t, ok)
	assert.ErrorIs(t, a.Err(), boom)
}

func TestExecute_DiamondWaitsForBothParents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.filters("A", "B", "C", "D")
	h.chain("A", "B", "D")
	h.chain("A", "C", "D")
	s := h.build(false, "A", "B", "C", "D")

	require.NoError(t, s.Execute(context.Background(), true))
	h.waitStarted("A")
	h.complete("A", nil)

	h.waitStarted("B", "C")
	h.complete("B", nil)
	h.expectNoStart()

	h.complete("C", nil)
	h.waitStarted("D")
	h.complete("D", nil)

	require.NoError(t, wait(t, s))
}

func TestExecute_FailureStopsOtherBranches(t *testing.T) {
	t.Parallel()

	// A and B are independent; C depends on B. A fails while B is running.
	h := newHarness(t)
	h.filters("A", "B", "C")
	h.chain("B", "C")
	s := h.build(false, "A", "B", "C")

	require.NoError(t, s.Execute(context.Background(), true))
	h.waitStarted("A", "B")
	h.complete("A", errors.New("failed"))
	h.complete("B", nil)

	require.ErrorIs(t, wait(t, s), ErrFiltersFailed)
	assert.Equal(t, map[nodegraph.ID]State{"A": Failed, "B": Finished, "C": Cancelled}, s.States())
	assert.NotContains(t, h.startedOrder(), nodegraph.ID("C"))
}

func TestExecute_SkipUnchanged(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		staleA   bool
		staleB   bool
		expected map[nodegraph.ID]State
		started  []nodegraph.ID
	}{
		{
			name:     "nothing stale skips everything",
			expected: map[nodegraph.ID]State{"A": Skipped, "B": Skipped},
		},
		{
			name:     "stale parent reruns child",
			staleA:   true,
			expected: map[nodegraph.ID]State{"A": Finished, "B": Finished},
			started:  []nodegraph.ID{"A", "B"},
		},
		{
			name:     "stale child runs after skipped parent",
			staleB:   true,
			expected: map[nodegraph.ID]State{"A": Skipped, "B": Finished},
			started:  []nodegraph.ID{"B"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.filterOf("A", "filter", tc.staleA)
			h.filterOf("B", "filter", tc.staleB)
			h.chain("A", "B")
			s := h.build(true, "A", "B")

			require.NoError(t, s.Execute(context.Background(), false))
			for _, id := range tc.started {
				h.waitStarted(id)
				h.complete(id, nil)
			}

			require.NoError(t, wait(t, s))
			assert.Equal(t, tc.expected, s.States())
		})
	}
}

func TestExecute_CancelForwardsToRunningTasks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.filters("A", "B")
	h.chain("A", "B")
	s := h.build(false, "A", "B")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Execute(ctx, true))
	h.waitStarted("A")

	cancel()
	task := h.task("A")
	<-task.Context().Done()
	task.Complete(task.Context().Err())

	require.ErrorIs(t, wait(t, s), ErrFiltersFailed)
	assert.True(t, s.Operation().IsCancelled())
	assert.Equal(t, map[nodegraph.ID]State{"A": Failed, "B": Cancelled}, s.States())
}

func TestExecute_CancelledRunDoesNotStartReadyFilters(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.filters("A", "B")
	h.chain("A", "B")
	s := h.build(false, "A", "B")

	require.NoError(t, s.Execute(context.Background(), true))
	h.waitStarted("A")
	s.Operation().Cancel()
	// A ignores the cancel request and succeeds anyway.
	h.complete("A", nil)

	require.ErrorIs(t, wait(t, s), ErrFiltersFailed)
	assert.Equal(t, map[nodegraph.ID]State{"A": Finished, "B": Cancelled}, s.States())
}

func TestExecute_AlreadyCancelledContextStartsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.filters("A", "B")
	h.chain("A", "B")
	s := h.build(false, "A", "B")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Execute(ctx, true))

	require.ErrorIs(t, wait(t, s), ErrFiltersFailed)
	assert.Empty(t, h.startedOrder())
	assert.Equal(t, map[nodegraph.ID]State{"A": Cancelled, "B": Cancelled}, s.States())
}

func TestExecute_DestroyedTaskCountsAsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.filters("A", "B")
	h.chain("A", "B")
	s := h.build(false, "A", "B")

	require.NoError(t, s.Execute(context.Background(), true))
	h.waitStarted("A")
	h.task("A").Destroy()

	require.ErrorIs(t, wait(t, s), ErrFiltersFailed)
	a, _ := s.Node("A")
	assert.ErrorIs(t, a.Err(), filter.ErrTaskDestroyed)
	assert.Equal(t, Cancelled, s.States()["B"])
}

func TestExecute_SynchronousCompletion(t *testing.T) {
	t.Parallel()

	// Filters whose tasks complete before Run returns must not deadlock.
	g := nodegraph.New()
	var runs atomic.Int32
	for _, id := range []nodegraph.ID{"A", "B", "C"} {
		g.AddNode(id, nodegraph.KindFilter, "filter")
		require.NoError(t, g.SetFilter(id, filter.HandleFunc{Start: func(ctx context.Context) filter.AsyncTask {
			runs.Add(1)
			task := filter.NewTask(ctx)
			task.Complete(nil)
			return task
		}}))
	}
	require.NoError(t, g.Connect("A", "B"))
	require.NoError(t, g.Connect("B", "C"))

	s, err := Build(context.Background(), g, RunSet{Filters: []nodegraph.ID{"A", "B", "C"}})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(3), runs.Load())
}

func TestExecute_EmptyGraphFinishesImmediately(t *testing.T) {
	t.Parallel()

	s, err := Build(context.Background(), nodegraph.New(), RunSet{})
	require.NoError(t, err)

	require.NoError(t, s.Execute(context.Background(), false))
	require.NoError(t, wait(t, s))
	assert.Equal(t, 1.0, s.Operation().Progress())
}

func TestExecute_OnlyOnce(t *testing.T) {
	t.Parallel()

	s, err := Build(context.Background(), nodegraph.New(), RunSet{})
	require.NoError(t, err)

	require.NoError(t, s.Execute(context.Background(), false))
	assert.ErrorIs(t, s.Execute(context.Background(), false), ErrAlreadyExecuted)
}

func TestSubscribe_StreamsTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.filters("A", "B")
	h.chain("A", "B")
	s := h.build(false, "A", "B")
	events := s.Subscribe(context.Background())

	require.NoError(t, s.Execute(context.Background(), true))
	h.waitStarted("A")
	h.complete("A", errors.New("no"))
	require.Error(t, wait(t, s))

	type transition struct {
		id    nodegraph.ID
		state State
	}
	var got []transition
	for ev := range events {
		assert.Equal(t, pubsub.StateChanged, ev.Type)
		assert.Equal(t, s.Operation().ID(), ev.Payload.OperationID)
		got = append(got, transition{ev.Payload.NodeID, ev.Payload.State})
	}
	assert.Equal(t, []transition{{"A", Running}, {"A", Failed}, {"B", Cancelled}}, got)
}

func TestRun_UsesSkipUnchanged(t *testing.T) {
	t.Parallel()

	t.Run("skip unchanged", func(t *testing.T) {
		h := newHarness(t)
		h.filterOf("A", "filter", false)
		s := h.build(true, "A")

		require.NoError(t, s.Run(context.Background()))
		assert.Equal(t, Skipped, s.States()["A"])
	})

	t.Run("force", func(t *testing.T) {
		h := newHarness(t)
		h.filterOf("A", "filter", false)
		s := h.build(false, "A")

		go func() {
			<-h.startCh
			h.mu.Lock()
			task := h.tasks["A"]
			h.mu.Unlock()
			task.Complete(nil)
		}()
		require.NoError(t, s.Run(context.Background()))
		assert.Equal(t, Finished, s.States()["A"])
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.False(t, Running.Terminal())
	assert.True(t, Skipped.Terminal())
}
