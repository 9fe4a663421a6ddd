package cli

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/services"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depths and budget usage",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg

	queues := map[string]driven.DurableQueue{
		cfg.Queues.DownloadQueue: env.store.Queue(cfg.Queues.DownloadQueue, cfg.Queues.VisibilityTimeout),
		cfg.Queues.ParseQueue:    env.store.Queue(cfg.Queues.ParseQueue, cfg.Queues.VisibilityTimeout),
		cfg.Queues.ChunkQueue:    env.store.Queue(cfg.Queues.ChunkQueue, cfg.Queues.VisibilityTimeout),
	}
	ledger := env.store.BudgetLedger(cfg.Budget.DailyAllotments)
	budgetServices := []string{
		string(domain.AnalysisKindSummary),
		string(domain.AnalysisKindEntities),
	}

	report, err := services.CollectStatus(cmd.Context(), queues, ledger, budgetServices)
	if err != nil {
		return err
	}

	cmd.Printf("Data store: %s\n\n", env.store.Path())
	cmd.Println("Queues:")
	names := make([]string, 0, len(report.QueueDepths))
	for name := range report.QueueDepths {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd.Printf("  %-12s %d ready\n", name, report.QueueDepths[name])
	}

	cmd.Println("\nToday's token budgets:")
	for _, service := range budgetServices {
		usage := report.Budgets[service]
		if usage.Allotment > 0 {
			cmd.Printf("  %-20s %d / %d\n", service, usage.Consumed, usage.Allotment)
		} else {
			cmd.Printf("  %-20s %d (unlimited)\n", service, usage.Consumed)
		}
	}
	return nil
}
