package filter

import (
	"context"
	"errors"
)

// ErrTaskDestroyed is reported for a task that went away without completing.
var ErrTaskDestroyed = errors.New("task destroyed without completing")

// Handle is the scheduler's view of one filter node.
type Handle interface {
	// NeedsRecalculation reports whether the filter's output is stale with
	// respect to its own parameters.
	NeedsRecalculation() bool
	// Run starts the filter and returns without waiting for it to finish.
	Run(ctx context.Context) AsyncTask
}

// AsyncTask is a running filter computation.
type AsyncTask interface {
	// OnComplete registers fn to receive the run's result. A nil error means
	// success.
	OnComplete(fn func(err error))
	// OnDestroyedWithoutCompleting registers fn to be told that the task
	// will never complete.
	OnDestroyedWithoutCompleting(fn func())
	// Cancel asks the computation to stop. It does not wait.
	Cancel()
}

// HandleFunc adapts plain functions to the Handle interface.
type HandleFunc struct {
	Stale func() bool
	Start func(ctx context.Context) AsyncTask
}

// NeedsRecalculation implements Handle. A nil Stale reports true.
func (h HandleFunc) NeedsRecalculation() bool {
	if h.Stale == nil {
		return true
	}
	return h.Stale()
}

// Run implements Handle.
func (h HandleFunc) Run(ctx context.Context) AsyncTask {
	return h.Start(ctx)
}
