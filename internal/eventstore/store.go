package eventstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving events.
type Store interface {
	// Append adds an event to the store. The event's ID is assigned by the store.
	Append(ctx context.Context, event Event) error

	// GetByTaskID retrieves all events for a task in insertion order.
	GetByTaskID(ctx context.Context, taskID int) ([]Event, error)

	// GetRange retrieves events within a time range, inclusive.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	Close() error
}
