package driven

import "context"

// BudgetUsage is a point-in-time view of one service's daily ledger.
type BudgetUsage struct {
	// Consumed is the tokens charged so far today.
	Consumed int

	// Allotment is the configured daily limit. Zero means unlimited.
	Allotment int
}

// BudgetLedger tracks per-service daily token consumption.
//
// Reserve must be a single atomic check-and-increment: under concurrent
// workers the ledger may overshoot its allotment by at most one in-flight
// estimate per extra worker, never unboundedly. The ledger resets at the
// daily boundary (midnight UTC).
type BudgetLedger interface {
	// Reserve provisionally charges estimate tokens against the service's
	// daily allotment. Returns domain.ErrBudgetExceeded if the charge
	// would cross the limit; the ledger is left unchanged in that case.
	// Services without a configured allotment always succeed.
	Reserve(ctx context.Context, service string, estimate int) error

	// Commit reconciles a provisional charge to the call's actual reported
	// usage. The adjustment may increase or decrease the ledger.
	Commit(ctx context.Context, service string, reserved, actual int) error

	// Release rolls back a provisional charge that never produced usage.
	Release(ctx context.Context, service string, reserved int) error

	// Usage returns today's consumption and allotment for the service.
	Usage(ctx context.Context, service string) (BudgetUsage, error)
}
