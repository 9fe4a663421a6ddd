package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// budgetLedger implements driven.BudgetLedger on the budget_ledger table.
// The reserve path is a single conditional UPDATE, so two workers can never
// both pass the check for the same remaining headroom.
type budgetLedger struct {
	store      *Store
	allotments map[string]int
}

var _ driven.BudgetLedger = (*budgetLedger)(nil)

// dayKey scopes ledger rows to midnight-UTC boundaries.
func dayKey(now time.Time) string {
	return now.UTC().Format("20060102")
}

// Reserve provisionally charges estimate tokens against today's allotment.
func (l *budgetLedger) Reserve(ctx context.Context, service string, estimate int) error {
	if estimate < 1 {
		estimate = 1
	}
	day := dayKey(time.Now())

	if err := l.ensureRow(ctx, service, day); err != nil {
		return err
	}

	allotment, limited := l.allotment(service)
	if !limited {
		_, err := l.store.db.ExecContext(ctx, `
			UPDATE budget_ledger SET consumed = consumed + ?
			WHERE service = ? AND day = ?
		`, estimate, service, day)
		if err != nil {
			return fmt.Errorf("charging unlimited ledger: %w", err)
		}
		return nil
	}

	res, err := l.store.db.ExecContext(ctx, `
		UPDATE budget_ledger SET consumed = consumed + ?
		WHERE service = ? AND day = ? AND consumed + ? <= ?
	`, estimate, service, day, estimate, allotment)
	if err != nil {
		return fmt.Errorf("charging ledger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking charge result: %w", err)
	}
	if affected == 0 {
		return domain.ErrBudgetExceeded
	}
	return nil
}

// Commit reconciles a provisional charge to actual reported usage.
func (l *budgetLedger) Commit(ctx context.Context, service string, reserved, actual int) error {
	if actual < 0 {
		actual = 0
	}
	delta := actual - reserved
	if delta == 0 {
		return nil
	}
	day := dayKey(time.Now())
	if err := l.ensureRow(ctx, service, day); err != nil {
		return err
	}

	_, err := l.store.db.ExecContext(ctx, `
		UPDATE budget_ledger SET consumed = MAX(0, consumed + ?)
		WHERE service = ? AND day = ?
	`, delta, service, day)
	if err != nil {
		return fmt.Errorf("reconciling ledger: %w", err)
	}
	return nil
}

// Release rolls back a provisional charge that produced no usage.
func (l *budgetLedger) Release(ctx context.Context, service string, reserved int) error {
	return l.Commit(ctx, service, reserved, 0)
}

// Usage returns today's consumption and configured allotment.
func (l *budgetLedger) Usage(ctx context.Context, service string) (driven.BudgetUsage, error) {
	day := dayKey(time.Now())

	var consumed int
	row := l.store.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(consumed), 0) FROM budget_ledger
		WHERE service = ? AND day = ?
	`, service, day)
	if err := row.Scan(&consumed); err != nil {
		return driven.BudgetUsage{}, fmt.Errorf("reading ledger: %w", err)
	}

	allotment, _ := l.allotment(service)
	return driven.BudgetUsage{Consumed: consumed, Allotment: allotment}, nil
}

// ensureRow creates today's ledger row if absent so the conditional UPDATE
// always has a target.
func (l *budgetLedger) ensureRow(ctx context.Context, service, day string) error {
	_, err := l.store.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO budget_ledger (service, day, consumed) VALUES (?, ?, 0)
	`, service, day)
	if err != nil {
		return fmt.Errorf("initialising ledger row: %w", err)
	}
	return nil
}

// allotment returns the configured daily limit and whether the service is
// limited at all.
func (l *budgetLedger) allotment(service string) (int, bool) {
	limit, ok := l.allotments[service]
	if !ok || limit <= 0 {
		return 0, false
	}
	return limit, true
}
