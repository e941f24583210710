package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/filtergrid/internal/filter"
	"github.com/vk/filtergrid/internal/pubsub"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrFiltersFailed is the error an operation finishes with when at least one
// filter failed or was cancelled.
var ErrFiltersFailed = errors.New("one or more filters failed or were cancelled")

// mailbox is an unbounded queue of callbacks consumed by the control
// goroutine. Posting never blocks.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) take() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
}

// driver owns every state transition of one execution. All of its methods
// except post run on the control goroutine.
type driver struct {
	s       *Scheduler
	ctx     context.Context
	logger  *slog.Logger
	span    trace.Span
	box     *mailbox
	barrier *CompletionBarrier

	total     int
	finalized int
	done      bool

	stopContextWatch func() bool
	stopCancelWatch  func()
}

func (d *driver) loop() {
	for {
		<-d.box.wake
		for _, fn := range d.box.take() {
			fn()
		}
		if d.done {
			d.box.close()
			return
		}
	}
}

// begin starts every root and then releases the sentinel's slot.
func (d *driver) begin(forceRerunAll bool) {
	d.logger.Info("🚀 Starting filter run.", "filters", d.total, "roots", len(d.s.sentinel.children), "forceRerunAll", forceRerunAll)
	for _, root := range d.s.sentinel.children {
		d.start(root, forceRerunAll)
	}
	d.finalize(d.s.sentinel)
}

func (d *driver) start(n *Node, parentChanged bool) {
	if n.State() != Pending {
		return
	}
	if d.barrier.Failed() || d.s.op.IsCancelled() {
		d.barrier.Fail()
		d.cancelSubtree(n)
		return
	}

	if !parentChanged && !n.handle.NeedsRecalculation() {
		d.transition(n, Skipped, nil)
		d.finalize(n)
		d.startChildren(n, false)
		return
	}

	d.transition(n, Running, nil)
	task := n.handle.Run(d.ctx)
	if task == nil {
		d.onComplete(n, fmt.Errorf("filter '%s' did not start a task", n.id))
		return
	}
	n.stopCancelForward = d.s.op.OnCancel(task.Cancel)
	task.OnComplete(func(err error) {
		d.box.post(func() { d.onComplete(n, err) })
	})
	task.OnDestroyedWithoutCompleting(func() {
		d.box.post(func() { d.onComplete(n, fmt.Errorf("filter '%s': %w", n.id, filter.ErrTaskDestroyed)) })
	})
}

func (d *driver) onComplete(n *Node, err error) {
	if n.State() != Running {
		return
	}
	if n.stopCancelForward != nil {
		n.stopCancelForward()
		n.stopCancelForward = nil
	}

	if err != nil {
		n.setErr(err)
		d.transition(n, Failed, err)
		if d.barrier.Fail() {
			d.logger.Warn("Filter failed, cancelling dependents.", "nodeID", n.id, "error", err)
		}
		for _, c := range n.children {
			d.cancelSubtree(c)
		}
	} else {
		d.transition(n, Finished, nil)
		d.startChildren(n, true)
	}
	d.finalize(n)
}

func (d *driver) startChildren(n *Node, parentChanged bool) {
	for _, c := range n.children {
		c.processed++
		c.parentChanged = c.parentChanged || parentChanged
		if c.processed == c.inDegree {
			d.start(c, c.parentChanged)
		}
	}
}

// cancelSubtree moves n and every pending node below it to Cancelled.
func (d *driver) cancelSubtree(n *Node) {
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.State() != Pending {
			continue
		}
		d.transition(cur, Cancelled, nil)
		d.finalize(cur)
		stack = append(stack, cur.children...)
	}
}

func (d *driver) transition(n *Node, state State, err error) {
	n.setState(state)

	attrs := []any{"nodeID", n.id, "state", state}
	if err != nil {
		attrs = append(attrs, "error", err)
		d.logger.Error("Filter failed.", attrs...)
	} else {
		d.logger.Debug("Filter state changed.", attrs...)
	}

	d.span.AddEvent("filter."+state.String(), trace.WithAttributes(
		attribute.String("filter.id", string(n.id)),
	))
	d.s.events.Publish(pubsub.StateChanged, NodeEvent{
		OperationID: d.s.op.ID(),
		NodeID:      n.id,
		State:       state,
		Err:         err,
	})
}

func (d *driver) finalize(n *Node) {
	n.finalizeOnce.Do(func() {
		if !n.sentinel {
			d.finalized++
			d.s.op.UpdateProgress(float64(d.finalized) / float64(d.total))
		}
		d.barrier.Release()
	})
}

// finish runs on the control goroutine when the barrier drains.
func (d *driver) finish(failed bool) {
	d.done = true
	d.stopContextWatch()
	d.stopCancelWatch()

	counts := make(map[State]int)
	for _, n := range d.s.nodes {
		counts[n.State()]++
	}

	var err error
	if failed {
		err = ErrFiltersFailed
		d.span.SetStatus(codes.Error, err.Error())
		d.logger.Error("🏁 Filter run finished with errors.",
			"finished", counts[Finished], "skipped", counts[Skipped],
			"failed", counts[Failed], "cancelled", counts[Cancelled])
	} else {
		d.span.SetStatus(codes.Ok, "")
		d.logger.Info("🏁 Filter run finished.",
			"finished", counts[Finished], "skipped", counts[Skipped])
	}
	d.span.SetAttributes(
		attribute.Int("filters.finished", counts[Finished]),
		attribute.Int("filters.skipped", counts[Skipped]),
		attribute.Int("filters.failed", counts[Failed]),
		attribute.Int("filters.cancelled", counts[Cancelled]),
	)
	d.span.End()

	d.s.events.Close()
	d.s.op.Finish(err)
}
