// Package file provides the TOML-backed configuration adapter.
package file

import (
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// Pipeline defaults. Anything not set in config.toml falls back to these.
const (
	defaultGlobalFeedURL      = "https://www.sec.gov/cgi-bin/browse-edgar?action=getcurrent&type=&company=&dateb=&owner=include&count=100&output=atom"
	defaultCompanyFeedBaseURL = "https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany&output=atom&count=40&CIK="
	defaultGlobalInterval     = 2 * time.Minute
	defaultCompanyInterval    = 10 * time.Minute
	defaultVisibility         = 5 * time.Minute
	defaultDequeueWait        = 2 * time.Second
	defaultSweepBatch         = 100
	defaultDownloadWorkers    = 4
	defaultAnalysisWorkers    = 2
	defaultMaxRetries         = 3
	defaultBackoffBase        = time.Second
	defaultRequestTimeout     = 30 * time.Second
	defaultPauseThreshold     = 200
	defaultResumeThreshold    = 50
	defaultGatePoll           = time.Second
	defaultBudgetCooldown     = time.Minute
	defaultPromptOverhead     = 300
	defaultMaxOutputTokens    = 1024
	defaultTemperature        = 0.2
)

// PipelineConfig assembles the runtime configuration from a config store,
// applying defaults for anything unset.
func PipelineConfig(store driven.ConfigStore) domain.Config {
	cfg := domain.Config{
		Queues: domain.QueueOptions{
			DownloadQueue:     "downloads",
			ParseQueue:        "parses",
			ChunkQueue:        "chunks",
			VisibilityTimeout: durationOr(store, "queue.visibility_timeout", defaultVisibility),
			SweepBatchSize:    intOr(store, "queue.sweep_batch_size", defaultSweepBatch),
			DequeueWait:       durationOr(store, "queue.dequeue_wait", defaultDequeueWait),
		},
		Gate: domain.GateOptions{
			PauseThreshold:  intOr(store, "gate.pause_threshold", defaultPauseThreshold),
			ResumeThreshold: intOr(store, "gate.resume_threshold", defaultResumeThreshold),
			PollInterval:    durationOr(store, "gate.poll_interval", defaultGatePoll),
		},
		Poller: domain.PollerOptions{
			GlobalFeedURL:      stringOr(store, "poller.global_feed_url", defaultGlobalFeedURL),
			GlobalInterval:     durationOr(store, "poller.global_interval", defaultGlobalInterval),
			CompanyFeedBaseURL: stringOr(store, "poller.company_feed_base_url", defaultCompanyFeedBaseURL),
			CompanyInterval:    durationOr(store, "poller.company_interval", defaultCompanyInterval),
			CompanyCIKs:        store.GetStringSlice("poller.company_ciks"),
			UserAgent:          store.GetString("poller.user_agent"),
			RequestsPerSecond:  floatOr(store, "poller.requests_per_second", 5),
		},
		Download: domain.DownloadOptions{
			Workers:        intOr(store, "download.workers", defaultDownloadWorkers),
			MaxRetries:     intOr(store, "download.max_retries", defaultMaxRetries),
			BackoffBase:    durationOr(store, "download.backoff_base", defaultBackoffBase),
			RequestTimeout: durationOr(store, "download.request_timeout", defaultRequestTimeout),
		},
		Planner: domain.PlannerOptions{
			MaxTokensPerChunk: intOr(store, "planner.max_tokens_per_chunk", 0),
			MinTokensPerChunk: intOr(store, "planner.min_tokens_per_chunk", 0),
			ParagraphOverlap:  intOr(store, "planner.paragraph_overlap", -1),
		},
		Budget: domain.BudgetOptions{
			DailyAllotments:      store.GetIntMap("budget.daily_allotments"),
			Cooldown:             durationOr(store, "budget.cooldown", defaultBudgetCooldown),
			PromptOverheadTokens: intOr(store, "budget.prompt_overhead_tokens", defaultPromptOverhead),
		},
		Summary:  analysisOptions(store, "summary"),
		Entities: analysisOptions(store, "entities"),
	}

	defaults := domain.DefaultPlannerOptions()
	if cfg.Planner.MaxTokensPerChunk <= 0 {
		cfg.Planner.MaxTokensPerChunk = defaults.MaxTokensPerChunk
	}
	if cfg.Planner.MinTokensPerChunk <= 0 {
		cfg.Planner.MinTokensPerChunk = defaults.MinTokensPerChunk
	}
	if cfg.Planner.ParagraphOverlap < 0 {
		cfg.Planner.ParagraphOverlap = defaults.ParagraphOverlap
	}
	return cfg
}

func analysisOptions(store driven.ConfigStore, section string) domain.AnalysisOptions {
	return domain.AnalysisOptions{
		Workers:         intOr(store, section+".workers", defaultAnalysisWorkers),
		Model:           store.GetString(section + ".model"),
		Temperature:     floatOr(store, section+".temperature", defaultTemperature),
		MaxOutputTokens: intOr(store, section+".max_output_tokens", defaultMaxOutputTokens),
		MaxRetries:      intOr(store, section+".max_retries", defaultMaxRetries),
		BackoffBase:     durationOr(store, section+".backoff_base", defaultBackoffBase),
	}
}

func stringOr(store driven.ConfigStore, key, fallback string) string {
	if v := store.GetString(key); v != "" {
		return v
	}
	return fallback
}

func intOr(store driven.ConfigStore, key string, fallback int) int {
	if _, ok := store.Get(key); ok {
		return store.GetInt(key)
	}
	return fallback
}

func floatOr(store driven.ConfigStore, key string, fallback float64) float64 {
	if _, ok := store.Get(key); ok {
		return store.GetFloat(key)
	}
	return fallback
}

// durationOr reads a duration expressed as a string ("90s", "5m").
func durationOr(store driven.ConfigStore, key string, fallback time.Duration) time.Duration {
	raw := store.GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
