package scheduler

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/vk/filtergrid/internal/operation"
	"github.com/vk/filtergrid/internal/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vk/filtergrid/internal/scheduler"

// ErrAlreadyExecuted is returned when Execute is called a second time.
var ErrAlreadyExecuted = errors.New("scheduler has already been executed")

// NodeEvent is published for every state transition of a scheduled filter.
type NodeEvent struct {
	OperationID string
	NodeID      nodegraph.ID
	State       State
	Err         error
}

// Scheduler runs one build of the execution DAG. It is single use.
type Scheduler struct {
	runSet      RunSet
	sentinel    *Node
	nodes       []*Node
	byID        map[nodegraph.ID]*Node
	unscheduled []nodegraph.ID

	op       *operation.Operation
	events   *pubsub.Broker[NodeEvent]
	executed atomic.Bool
}

// Execute starts the accepted roots and returns immediately. With
// forceRerunAll every scheduled filter runs regardless of whether it needs
// recalculation. Completion is reported through Operation. Cancelling ctx
// cancels the operation.
func (s *Scheduler) Execute(ctx context.Context, forceRerunAll bool) error {
	if !s.executed.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}

	logger := ctxlog.FromContext(ctx).With("operationID", s.op.ID())
	taskCtx, span := otel.Tracer(tracerName).Start(context.WithoutCancel(ctx), "scheduler.execute",
		trace.WithAttributes(
			attribute.String("operation.id", s.op.ID()),
			attribute.Int("filters.scheduled", len(s.nodes)),
			attribute.Bool("force_rerun_all", forceRerunAll),
		))

	d := &driver{
		s:      s,
		ctx:    ctxlog.WithLogger(taskCtx, logger),
		logger: logger,
		span:   span,
		box:    newMailbox(),
		total:  len(s.nodes),
	}
	d.barrier = NewCompletionBarrier(len(s.nodes)+1, d.finish)
	d.stopContextWatch = context.AfterFunc(ctx, s.op.Cancel)
	d.stopCancelWatch = s.op.OnCancel(func() {
		d.box.post(func() {
			if d.barrier.Fail() {
				d.logger.Warn("Filter run cancelled.")
			}
		})
	})

	// AfterFunc runs asynchronously for a context that is already done.
	if ctx.Err() != nil {
		s.op.Cancel()
	}

	go d.loop()
	d.box.post(func() { d.begin(forceRerunAll) })
	return nil
}

// Run executes the run-set, forcing a rerun of everything unless the
// run-set asks to skip unchanged filters, and waits for the outcome.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Execute(ctx, !s.runSet.SkipUnchanged); err != nil {
		return err
	}
	return s.op.Wait(ctx)
}

// Operation is the long-running operation this scheduler reports to.
func (s *Scheduler) Operation() *operation.Operation { return s.op }

// RunSet returns the normalised run-set the scheduler was built from.
func (s *Scheduler) RunSet() RunSet { return s.runSet }

// Subscribe streams per-filter state changes until the run finishes.
func (s *Scheduler) Subscribe(ctx context.Context) <-chan pubsub.Event[NodeEvent] {
	return s.events.Subscribe(ctx)
}

// Roots returns the accepted roots in run-set order.
func (s *Scheduler) Roots() []nodegraph.ID {
	return s.sentinel.Children()
}

// Unscheduled returns requested filters that are not part of the DAG.
func (s *Scheduler) Unscheduled() []nodegraph.ID {
	return append([]nodegraph.ID(nil), s.unscheduled...)
}

// Node looks up the scheduling state of a filter.
func (s *Scheduler) Node(id nodegraph.ID) (*Node, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// Nodes returns every scheduled node in discovery order.
func (s *Scheduler) Nodes() []*Node {
	return append([]*Node(nil), s.nodes...)
}

// Edges returns the scheduled successors of every node.
func (s *Scheduler) Edges() map[nodegraph.ID][]nodegraph.ID {
	edges := make(map[nodegraph.ID][]nodegraph.ID, len(s.nodes))
	for _, n := range s.nodes {
		edges[n.id] = n.Children()
	}
	return edges
}

// States snapshots the state of every scheduled filter.
func (s *Scheduler) States() map[nodegraph.ID]State {
	states := make(map[nodegraph.ID]State, len(s.nodes))
	for _, n := range s.nodes {
		states[n.id] = n.State()
	}
	return states
}
