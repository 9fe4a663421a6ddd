package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/blob/fs"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/feed/edgar"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/llm/groq"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/metrics"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/services"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/normalisers/html"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the filing pipeline",
	Long: `Runs the full pipeline: EDGAR discovery polling, filing downloads,
sectionizing, chunk planning and budgeted LLM analysis. Stops cleanly on
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg

	if cfg.Poller.UserAgent == "" {
		return errors.New("poller.user_agent must be set; EDGAR requires identified traffic")
	}
	apiKey := env.config.GetString("llm.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if apiKey == "" {
		return errors.New("set llm.api_key in config or the GROQ_API_KEY environment variable")
	}

	edgarClient, err := edgar.NewClient(edgar.Config{
		UserAgent:         cfg.Poller.UserAgent,
		RequestsPerSecond: cfg.Poller.RequestsPerSecond,
		Timeout:           cfg.Download.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating EDGAR client: %w", err)
	}
	llm, err := groq.NewCompletionService(groq.Config{
		APIKey:  apiKey,
		BaseURL: env.config.GetString("llm.base_url"),
		Model:   cfg.Summary.Model,
	})
	if err != nil {
		return fmt.Errorf("creating completion service: %w", err)
	}
	defer llm.Close() //nolint:errcheck
	blobs, err := fs.NewStore(env.config.GetString("storage.blob_dir"))
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}

	downloads := env.store.Queue(cfg.Queues.DownloadQueue, cfg.Queues.VisibilityTimeout)
	parses := env.store.Queue(cfg.Queues.ParseQueue, cfg.Queues.VisibilityTimeout)
	chunks := env.store.Queue(cfg.Queues.ChunkQueue, cfg.Queues.VisibilityTimeout)
	filings := env.store.FilingStore()
	ledger := env.store.BudgetLedger(cfg.Budget.DailyAllotments)
	seen := env.store.SeenSet()
	sink := metrics.NewLogSink()

	gate := services.NewGate(cfg.Queues.ChunkQueue, chunks, cfg.Gate, sink)
	planner := services.NewPlanner(cfg.Planner)

	sweeper := services.NewSweeper(map[string]driven.DurableQueue{
		cfg.Queues.DownloadQueue: downloads,
		cfg.Queues.ParseQueue:    parses,
		cfg.Queues.ChunkQueue:    chunks,
	}, sink, cfg.Queues.VisibilityTimeout/4, cfg.Queues.SweepBatchSize)
	poller := services.NewPoller(edgarClient, seen, filings, downloads, sink, cfg.Poller)
	downloader := services.NewDownloader(
		downloads, parses, edgarClient.Fetcher(), blobs, filings, sink,
		cfg.Download, cfg.Queues.DequeueWait,
	)
	parser := services.NewParser(
		parses, chunks, filings, blobs, html.New(), planner, gate, sink,
		cfg.Download.Workers, cfg.Queues.DequeueWait,
	)
	analyst := services.NewAnalyst(
		chunks, filings, llm, ledger, sink,
		[]services.AnalysisHandler{
			services.NewSummaryHandler(cfg.Summary),
			services.NewEntityHandler(filings, cfg.Entities),
		},
		cfg.Budget, cfg.Summary.Workers, cfg.Queues.DequeueWait,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting pipeline (data at %s)", env.store.Path())
	return services.NewPipeline(sweeper, poller, downloader, parser, analyst).Start(ctx)
}
