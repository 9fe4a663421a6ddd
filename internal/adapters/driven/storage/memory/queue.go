// Package memory provides in-memory implementations of the storage ports
// for testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// Ensure Queue implements the interface.
var _ driven.DurableQueue = (*Queue)(nil)

type queueItem struct {
	dedupKey   string
	payload    []byte
	inflight   bool
	handle     string
	expiresAt  time.Time
	enqueuedAt time.Time
}

// Queue is an in-memory implementation of driven.DurableQueue for testing.
// It mirrors the persistent queue's semantics: dedup on enqueue, visibility
// timeouts, and stale-ack detection via delivery handles.
type Queue struct {
	mu         sync.Mutex
	visibility time.Duration
	items      []*queueItem
	present    map[string]bool
}

// NewQueue creates a new in-memory queue with the given visibility timeout.
func NewQueue(visibility time.Duration) *Queue {
	return &Queue{
		visibility: visibility,
		present:    make(map[string]bool),
	}
}

// Enqueue admits an item unless its dedup key is already present.
func (q *Queue) Enqueue(_ context.Context, payload []byte, dedupKey string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.present[dedupKey] {
		return false, nil
	}
	q.present[dedupKey] = true
	q.items = append(q.items, &queueItem{
		dedupKey:   dedupKey,
		payload:    payload,
		enqueuedAt: time.Now(),
	})
	return true, nil
}

// Dequeue claims the oldest ready item, waiting up to wait for one to appear.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*driven.QueueMessage, error) {
	deadline := time.Now().Add(wait)
	for {
		if msg := q.tryDequeue(); msg != nil {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *Queue) tryDequeue() *driven.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sweepLocked(len(q.items))

	for _, item := range q.items {
		if item.inflight {
			continue
		}
		item.inflight = true
		item.handle = uuid.New().String()
		item.expiresAt = time.Now().Add(q.visibility)
		return &driven.QueueMessage{
			Handle:   item.handle,
			DedupKey: item.dedupKey,
			Payload:  item.payload,
		}
	}
	return nil
}

// Ack removes an in-flight item. A stale handle matches nothing.
func (q *Queue) Ack(_ context.Context, msg *driven.QueueMessage) error {
	if msg == nil || msg.Handle == "" {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.inflight && item.handle == msg.Handle {
			delete(q.present, item.dedupKey)
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// SweepExpired returns timed-out in-flight items to ready, up to batchSize.
func (q *Queue) SweepExpired(_ context.Context, batchSize int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sweepLocked(batchSize), nil
}

func (q *Queue) sweepLocked(batchSize int) int {
	if q.visibility <= 0 || batchSize <= 0 {
		return 0
	}

	now := time.Now()
	swept := 0
	kept := make([]*queueItem, 0, len(q.items))
	var requeued []*queueItem
	for _, item := range q.items {
		if swept < batchSize && item.inflight && !item.expiresAt.After(now) {
			item.inflight = false
			item.handle = ""
			item.enqueuedAt = now
			requeued = append(requeued, item)
			swept++
			continue
		}
		kept = append(kept, item)
	}
	// Redelivered items go to the back.
	q.items = append(kept, requeued...)
	return swept
}

// Depth returns the ready-item count.
func (q *Queue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := 0
	for _, item := range q.items {
		if !item.inflight {
			depth++
		}
	}
	return depth, nil
}
