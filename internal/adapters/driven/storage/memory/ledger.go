package memory

import (
	"context"
	"sync"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// Ensure Ledger implements the interface.
var _ driven.BudgetLedger = (*Ledger)(nil)

// Ledger is an in-memory implementation of driven.BudgetLedger for testing.
// Unlike the persistent ledger it has no day boundary; tests exercise a
// single window.
type Ledger struct {
	mu         sync.Mutex
	allotments map[string]int
	consumed   map[string]int
}

// NewLedger creates a new in-memory ledger with the given daily allotments.
// A missing or non-positive allotment means the service is unlimited.
func NewLedger(allotments map[string]int) *Ledger {
	return &Ledger{
		allotments: allotments,
		consumed:   make(map[string]int),
	}
}

// Reserve provisionally charges estimate tokens against the allotment.
func (l *Ledger) Reserve(_ context.Context, service string, estimate int) error {
	if estimate < 1 {
		estimate = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limit, limited := l.allotments[service]
	if limited && limit > 0 && l.consumed[service]+estimate > limit {
		return domain.ErrBudgetExceeded
	}
	l.consumed[service] += estimate
	return nil
}

// Commit reconciles a provisional charge to actual reported usage.
func (l *Ledger) Commit(_ context.Context, service string, reserved, actual int) error {
	if actual < 0 {
		actual = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.consumed[service] += actual - reserved
	if l.consumed[service] < 0 {
		l.consumed[service] = 0
	}
	return nil
}

// Release rolls back a provisional charge that produced no usage.
func (l *Ledger) Release(ctx context.Context, service string, reserved int) error {
	return l.Commit(ctx, service, reserved, 0)
}

// Usage returns current consumption and the configured allotment.
func (l *Ledger) Usage(_ context.Context, service string) (driven.BudgetUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.allotments[service]
	if limit < 0 {
		limit = 0
	}
	return driven.BudgetUsage{Consumed: l.consumed[service], Allotment: limit}, nil
}
