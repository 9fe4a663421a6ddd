// Package driven provides interfaces for infrastructure adapters (secondary/outbound ports).
package driven

import (
	"context"
	"time"
)

// QueueMessage is one in-flight delivery from a durable queue.
//
// Handle identifies this particular delivery, not the logical item: after a
// visibility-timeout sweep the same item is redelivered under a fresh handle,
// and an acknowledgement carrying the old handle is detected as stale and
// ignored.
type QueueMessage struct {
	// Handle is the dequeue handle for this delivery.
	Handle string

	// DedupKey is the logical item identity.
	DedupKey string

	// Payload is the serialised task.
	Payload []byte
}

// DurableQueue is a persistent, at-least-once FIFO with per-item dedup keys
// and visibility timeouts.
type DurableQueue interface {
	// Enqueue admits an item unless its dedup key is already present.
	// Returns true if the item was newly admitted. Idempotent producers
	// call this freely.
	Enqueue(ctx context.Context, payload []byte, dedupKey string) (bool, error)

	// Dequeue atomically moves one ready item to in-flight, waiting up to
	// wait for an item to become available. Returns nil with no error if
	// the queue stayed empty.
	Dequeue(ctx context.Context, wait time.Duration) (*QueueMessage, error)

	// Ack permanently removes an in-flight item. A stale handle (the item
	// was swept and redelivered) is detected and ignored.
	Ack(ctx context.Context, msg *QueueMessage) error

	// SweepExpired returns in-flight items whose visibility timeout has
	// elapsed to the ready state, up to batchSize per call. Returns the
	// number of items requeued.
	SweepExpired(ctx context.Context, batchSize int) (int, error)

	// Depth returns the ready-item count for backpressure decisions.
	Depth(ctx context.Context) (int, error)
}
