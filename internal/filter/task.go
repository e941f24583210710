package filter

import (
	"context"
	"fmt"
	"sync"
)

type outcome int

const (
	outcomePending outcome = iota
	outcomeCompleted
	outcomeDestroyed
)

// Task is a single-shot AsyncTask backed by a cancellable context.
type Task struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	outcome     outcome
	err         error
	onComplete  []func(error)
	onDestroyed []func()
}

var _ AsyncTask = (*Task)(nil)

// NewTask returns a pending task whose context derives from ctx.
func NewTask(ctx context.Context) *Task {
	tctx, cancel := context.WithCancel(ctx)
	return &Task{ctx: tctx, cancel: cancel}
}

// Context is cancelled when Cancel is called or the task reaches an outcome.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Complete records the run's result. Only the first of Complete or Destroy
// has any effect; it returns whether this call decided the outcome.
func (t *Task) Complete(err error) bool {
	t.mu.Lock()
	if t.outcome != outcomePending {
		t.mu.Unlock()
		return false
	}
	t.outcome = outcomeCompleted
	t.err = err
	fns := t.onComplete
	t.onComplete, t.onDestroyed = nil, nil
	t.mu.Unlock()

	t.cancel()
	for _, fn := range fns {
		fn(err)
	}
	return true
}

// Destroy marks the task as gone without a result.
func (t *Task) Destroy() bool {
	t.mu.Lock()
	if t.outcome != outcomePending {
		t.mu.Unlock()
		return false
	}
	t.outcome = outcomeDestroyed
	fns := t.onDestroyed
	t.onComplete, t.onDestroyed = nil, nil
	t.mu.Unlock()

	t.cancel()
	for _, fn := range fns {
		fn()
	}
	return true
}

// OnComplete implements AsyncTask.
func (t *Task) OnComplete(fn func(error)) {
	t.mu.Lock()
	switch t.outcome {
	case outcomePending:
		t.onComplete = append(t.onComplete, fn)
		t.mu.Unlock()
	case outcomeCompleted:
		err := t.err
		t.mu.Unlock()
		fn(err)
	default:
		t.mu.Unlock()
	}
}

// OnDestroyedWithoutCompleting implements AsyncTask.
func (t *Task) OnDestroyedWithoutCompleting(fn func()) {
	t.mu.Lock()
	switch t.outcome {
	case outcomePending:
		t.onDestroyed = append(t.onDestroyed, fn)
		t.mu.Unlock()
	case outcomeDestroyed:
		t.mu.Unlock()
		fn()
	default:
		t.mu.Unlock()
	}
}

// Cancel implements AsyncTask.
func (t *Task) Cancel() {
	t.cancel()
}

// Go runs fn on its own goroutine and completes the returned task with its
// result. A panic inside fn destroys the task instead.
func Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	t := NewTask(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.Destroy()
			}
		}()
		t.Complete(fn(t.Context()))
	}()
	return t
}

// Failed returns a task that has already completed with err.
func Failed(ctx context.Context, format string, args ...any) *Task {
	t := NewTask(ctx)
	t.Complete(fmt.Errorf(format, args...))
	return t
}
