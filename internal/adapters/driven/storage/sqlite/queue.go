package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// dequeuePollInterval is how often a waiting Dequeue re-checks for work.
const dequeuePollInterval = 100 * time.Millisecond

// durableQueue implements driven.DurableQueue on the queue_items table.
// Ready-to-inflight moves and acknowledgements are single conditional
// UPDATE/DELETE statements, so concurrent workers never observe a
// half-complete transition.
type durableQueue struct {
	store      *Store
	name       string
	visibility time.Duration
}

var _ driven.DurableQueue = (*durableQueue)(nil)

// Enqueue admits an item unless its dedup key is already present.
func (q *durableQueue) Enqueue(ctx context.Context, payload []byte, dedupKey string) (bool, error) {
	res, err := q.store.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, queue, dedup_key, payload, state, enqueued_at)
		VALUES (?, ?, ?, ?, 'ready', ?)
		ON CONFLICT(queue, dedup_key) DO NOTHING
	`, uuid.New().String(), q.name, dedupKey, payload, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("enqueueing item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking enqueue result: %w", err)
	}
	return affected == 1, nil
}

// Dequeue atomically claims one ready item, waiting up to wait. Expired
// in-flight items are swept back to ready before each attempt.
func (q *durableQueue) Dequeue(ctx context.Context, wait time.Duration) (*driven.QueueMessage, error) {
	deadline := time.Now().Add(wait)
	for {
		if _, err := q.SweepExpired(ctx, 100); err != nil {
			return nil, err
		}

		msg, err := q.tryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dequeuePollInterval):
		}
	}
}

// tryDequeue makes one claim attempt. Returns nil with no error if the queue
// is empty.
func (q *durableQueue) tryDequeue(ctx context.Context) (*driven.QueueMessage, error) {
	for {
		var id string
		row := q.store.db.QueryRowContext(ctx, `
			SELECT id FROM queue_items
			WHERE queue = ? AND state = 'ready'
			ORDER BY enqueued_at, id
			LIMIT 1
		`, q.name)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("selecting ready item: %w", err)
		}

		handle := uuid.New().String()
		expiresAt := time.Now().Add(q.visibility).UnixMilli()

		// Claim is a CAS on state: losing a race to another worker just
		// means trying the next ready row.
		res, err := q.store.db.ExecContext(ctx, `
			UPDATE queue_items
			SET state = 'inflight', handle = ?, expires_at = ?
			WHERE id = ? AND state = 'ready'
		`, handle, expiresAt, id)
		if err != nil {
			return nil, fmt.Errorf("claiming item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("checking claim result: %w", err)
		}
		if affected == 0 {
			continue
		}

		var dedupKey string
		var payload []byte
		row = q.store.db.QueryRowContext(ctx,
			"SELECT dedup_key, payload FROM queue_items WHERE id = ?", id)
		if err := row.Scan(&dedupKey, &payload); err != nil {
			return nil, fmt.Errorf("reading claimed item: %w", err)
		}

		return &driven.QueueMessage{
			Handle:   handle,
			DedupKey: dedupKey,
			Payload:  payload,
		}, nil
	}
}

// Ack permanently removes an in-flight item. A stale handle (the item was
// swept and redelivered under a new handle) matches no row and is ignored.
func (q *durableQueue) Ack(ctx context.Context, msg *driven.QueueMessage) error {
	if msg == nil || msg.Handle == "" {
		return nil
	}
	_, err := q.store.db.ExecContext(ctx, `
		DELETE FROM queue_items
		WHERE queue = ? AND handle = ? AND state = 'inflight'
	`, q.name, msg.Handle)
	if err != nil {
		return fmt.Errorf("acknowledging item: %w", err)
	}
	return nil
}

// SweepExpired returns timed-out in-flight items to ready, up to batchSize.
func (q *durableQueue) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	if q.visibility <= 0 || batchSize <= 0 {
		return 0, nil
	}

	rows, err := q.store.db.QueryContext(ctx, `
		SELECT id FROM queue_items
		WHERE queue = ? AND state = 'inflight' AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?
	`, q.name, time.Now().UnixMilli(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("finding expired items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scanning expired item: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating expired items: %w", err)
	}

	swept := 0
	for _, id := range ids {
		// Requeue at the back: redelivered items get a fresh enqueue
		// timestamp, so ordering is FIFO-ish, not strict.
		res, err := q.store.db.ExecContext(ctx, `
			UPDATE queue_items
			SET state = 'ready', handle = NULL, expires_at = NULL, enqueued_at = ?
			WHERE id = ? AND state = 'inflight' AND expires_at <= ?
		`, time.Now().UnixMilli(), id, time.Now().UnixMilli())
		if err != nil {
			return swept, fmt.Errorf("requeueing expired item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return swept, fmt.Errorf("checking requeue result: %w", err)
		}
		swept += int(affected)
	}
	return swept, nil
}

// Depth returns the ready-item count.
func (q *durableQueue) Depth(ctx context.Context) (int, error) {
	var depth int
	row := q.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_items WHERE queue = ? AND state = 'ready'", q.name)
	if err := row.Scan(&depth); err != nil {
		return 0, fmt.Errorf("counting ready items: %w", err)
	}
	return depth, nil
}
