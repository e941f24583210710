package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// CompletionBarrier fires its finish callback exactly once, when every slot
// it was created with has been released.
type CompletionBarrier struct {
	pending  atomic.Int64
	failed   atomic.Bool
	once     sync.Once
	onFinish func(failed bool)
}

// NewCompletionBarrier creates a barrier with count slots.
func NewCompletionBarrier(count int, onFinish func(failed bool)) *CompletionBarrier {
	b := &CompletionBarrier{onFinish: onFinish}
	b.pending.Store(int64(count))
	return b
}

// Fail sets the sticky failure flag. It reports whether this call was the
// first to set it.
func (b *CompletionBarrier) Fail() bool {
	return b.failed.CompareAndSwap(false, true)
}

// Failed reports whether Fail has been called.
func (b *CompletionBarrier) Failed() bool {
	return b.failed.Load()
}

// Pending returns the number of slots not yet released.
func (b *CompletionBarrier) Pending() int {
	return int(b.pending.Load())
}

// Release frees one slot. Releasing more slots than the barrier was created
// with panics.
func (b *CompletionBarrier) Release() {
	left := b.pending.Add(-1)
	switch {
	case left == 0:
		b.once.Do(func() { b.onFinish(b.failed.Load()) })
	case left < 0:
		panic(fmt.Sprintf("scheduler: completion barrier released %d times too often", -left))
	}
}
