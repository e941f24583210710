// Package reporter forwards the progress of a filter run to sinks such as
// the log, the health server and a socket.io endpoint.
package reporter

import (
	"context"
	"sync"

	"github.com/vk/filtergrid/internal/operation"
	"github.com/vk/filtergrid/internal/pubsub"
	"github.com/vk/filtergrid/internal/scheduler"
)

// Sink receives the events of one run. Calls are made from a single
// goroutine.
type Sink interface {
	NodeChanged(ctx context.Context, ev scheduler.NodeEvent)
	OperationChanged(ctx context.Context, ev operation.Event)
}

// Reporter pumps the events of a scheduler to its sinks.
type Reporter struct {
	sinks []Sink
	done  chan struct{}
	once  sync.Once
}

// Attach subscribes to s and starts forwarding. It must be called before
// the scheduler is executed so that no transition is missed.
func Attach(ctx context.Context, s *scheduler.Scheduler, sinks ...Sink) *Reporter {
	r := &Reporter{
		sinks: sinks,
		done:  make(chan struct{}),
	}
	nodes := s.Subscribe(ctx)
	ops := s.Operation().Subscribe(ctx)
	go r.pump(ctx, nodes, ops)
	return r
}

func (r *Reporter) pump(ctx context.Context, nodes <-chan pubsub.Event[scheduler.NodeEvent], ops <-chan pubsub.Event[operation.Event]) {
	defer r.once.Do(func() { close(r.done) })

	for nodes != nil || ops != nil {
		select {
		case ev, ok := <-nodes:
			if !ok {
				nodes = nil
				continue
			}
			for _, s := range r.sinks {
				s.NodeChanged(ctx, ev.Payload)
			}
		case ev, ok := <-ops:
			if !ok {
				ops = nil
				continue
			}
			for _, s := range r.sinks {
				s.OperationChanged(ctx, ev.Payload)
			}
		}
	}
}

// Done is closed once every event has been delivered.
func (r *Reporter) Done() <-chan struct{} { return r.done }

// Wait blocks until every event has been delivered or ctx is done.
func (r *Reporter) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
