// Package operation models a long-running, cancellable unit of work that
// reports progress and finishes exactly once.
package operation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/vk/filtergrid/internal/pubsub"
)

// ErrCancelled is the error of an operation that was cancelled before it
// could finish on its own.
var ErrCancelled = errors.New("operation cancelled")

// Event is the payload published for every operation event.
type Event struct {
	OperationID string
	Description string
	Progress    float64
	Err         error
}

// Operation is safe for concurrent use.
type Operation struct {
	id          string
	description string
	events      *pubsub.Broker[Event]
	done        chan struct{}

	mu        sync.Mutex
	cancelled bool
	nextReg   int
	onCancel  map[int]func()
	progress  float64
	finished  bool
	err       error
}

// Option customises an Operation.
type Option func(*Operation)

// WithExpectedUpdates sizes the event buffer of every subscriber so that n
// progress updates plus the cancel and finish events are never dropped.
func WithExpectedUpdates(n int) Option {
	return func(o *Operation) {
		o.events = pubsub.NewBrokerWithBuffer[Event](n + 2)
	}
}

// New creates a running operation with a fresh id.
func New(description string, opts ...Option) *Operation {
	o := &Operation{
		id:          uuid.NewString(),
		description: description,
		done:        make(chan struct{}),
		onCancel:    make(map[int]func()),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.events == nil {
		o.events = pubsub.NewBroker[Event]()
	}
	return o
}

// ID returns the operation's unique id.
func (o *Operation) ID() string { return o.id }

// Description returns the human readable description given to New.
func (o *Operation) Description() string { return o.description }

// Cancel requests cancellation. Registered cancel functions run once, on the
// calling goroutine. Cancelling a finished operation does nothing.
func (o *Operation) Cancel() {
	o.mu.Lock()
	if o.cancelled || o.finished {
		o.mu.Unlock()
		return
	}
	o.cancelled = true
	fns := make([]func(), 0, len(o.onCancel))
	for _, fn := range o.onCancel {
		fns = append(fns, fn)
	}
	o.onCancel = nil
	o.mu.Unlock()

	o.events.Publish(pubsub.Cancelled, o.snapshot())
	for _, fn := range fns {
		fn()
	}
}

// IsCancelled reports whether Cancel has been called.
func (o *Operation) IsCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

// OnCancel registers fn to run when the operation is cancelled. If it is
// already cancelled fn runs immediately. The returned function removes the
// registration.
func (o *Operation) OnCancel(fn func()) (unregister func()) {
	o.mu.Lock()
	if o.cancelled {
		o.mu.Unlock()
		fn()
		return func() {}
	}
	if o.finished {
		o.mu.Unlock()
		return func() {}
	}
	id := o.nextReg
	o.nextReg++
	o.onCancel[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.onCancel, id)
	}
}

// UpdateProgress records progress in the range [0, 1]. Values outside the
// range are clamped. Updates after Finish are ignored.
func (o *Operation) UpdateProgress(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	o.progress = p
	o.mu.Unlock()

	o.events.Publish(pubsub.ProgressUpdated, o.snapshot())
}

// Progress returns the last reported progress.
func (o *Operation) Progress() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Finish completes the operation with err (nil for success). Only the first
// call has any effect; it reports whether this call finished the operation.
func (o *Operation) Finish(err error) bool {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return false
	}
	o.finished = true
	o.err = err
	if err == nil {
		o.progress = 1
	}
	o.onCancel = nil
	o.mu.Unlock()

	close(o.done)
	o.events.Publish(pubsub.Finished, o.snapshot())
	o.events.Close()
	return true
}

// Done is closed once the operation has finished.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Finished reports whether Finish has been called.
func (o *Operation) Finished() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished
}

// Err returns the finish error. It is nil while the operation is running.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Wait blocks until the operation finishes or ctx is done.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe streams operation events. The channel closes after the finished
// event or when ctx is cancelled.
func (o *Operation) Subscribe(ctx context.Context) <-chan pubsub.Event[Event] {
	return o.events.Subscribe(ctx)
}

func (o *Operation) snapshot() Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Event{
		OperationID: o.id,
		Description: o.description,
		Progress:    o.progress,
		Err:         o.err,
	}
}
