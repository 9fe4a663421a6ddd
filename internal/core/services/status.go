package services

import (
	"context"
	"fmt"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// StatusReport is a point-in-time view of pipeline health.
type StatusReport struct {
	// QueueDepths maps queue name to ready-item count.
	QueueDepths map[string]int

	// Budgets maps ledger service name to today's usage.
	Budgets map[string]driven.BudgetUsage
}

// CollectStatus gathers queue depths and budget usage for the status command.
func CollectStatus(
	ctx context.Context,
	queues map[string]driven.DurableQueue,
	ledger driven.BudgetLedger,
	budgetServices []string,
) (*StatusReport, error) {
	report := &StatusReport{
		QueueDepths: make(map[string]int, len(queues)),
		Budgets:     make(map[string]driven.BudgetUsage, len(budgetServices)),
	}
	for name, queue := range queues {
		depth, err := queue.Depth(ctx)
		if err != nil {
			return nil, fmt.Errorf("depth of %s: %w", name, err)
		}
		report.QueueDepths[name] = depth
	}
	for _, service := range budgetServices {
		usage, err := ledger.Usage(ctx, service)
		if err != nil {
			return nil, fmt.Errorf("budget usage for %s: %w", service, err)
		}
		report.Budgets[service] = usage
	}
	return report, nil
}
