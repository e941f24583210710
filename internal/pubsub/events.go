// Package pubsub provides a small generic publish/subscribe broker used to
// fan out operation and scheduler events to reporters.
package pubsub

import (
	"context"
	"time"
)

// EventType names the kind of event being published.
type EventType string

const (
	// StateChanged is published when a scheduled filter changes state.
	StateChanged EventType = "state_changed"
	// ProgressUpdated is published when an operation reports progress.
	ProgressUpdated EventType = "progress_updated"
	// Cancelled is published once when an operation is cancelled.
	Cancelled EventType = "cancelled"
	// Finished is published once when an operation finishes.
	Finished EventType = "finished"
)

// Event is a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber hands out subscription channels.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}
