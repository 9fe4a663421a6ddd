package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/feed/edgar"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/metrics"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/services"
)

var pollCIK string

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one discovery pass",
	Long: `Fetches the global EDGAR feed once (or one company's feed with
--cik), admits unseen filings and enqueues their download tasks. The serve
command's workers pick them up on their next run.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().StringVar(&pollCIK, "cik", "", "poll a single company's feed")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg

	if cfg.Poller.UserAgent == "" {
		return errors.New("poller.user_agent must be set; EDGAR requires identified traffic")
	}
	edgarClient, err := edgar.NewClient(edgar.Config{
		UserAgent:         cfg.Poller.UserAgent,
		RequestsPerSecond: cfg.Poller.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("creating EDGAR client: %w", err)
	}

	downloads := env.store.Queue(cfg.Queues.DownloadQueue, cfg.Queues.VisibilityTimeout)
	poller := services.NewPoller(
		edgarClient, env.store.SeenSet(), env.store.FilingStore(),
		downloads, metrics.NewLogSink(), cfg.Poller,
	)

	url := cfg.Poller.GlobalFeedURL
	if pollCIK != "" {
		url = cfg.Poller.CompanyFeedBaseURL + pollCIK
	}
	admitted, err := poller.PollOnce(cmd.Context(), url)
	if err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}
	cmd.Printf("Admitted %d new filings.\n", admitted)
	return nil
}
