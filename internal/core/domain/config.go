package domain

import "time"

// PlannerOptions controls how sections are packed into chunk jobs.
type PlannerOptions struct {
	// MaxTokensPerChunk is the soft ceiling for a chunk's estimated size.
	MaxTokensPerChunk int

	// MinTokensPerChunk is the soft floor; packing continues past the
	// ceiling while a chunk is still under this floor.
	MinTokensPerChunk int

	// ParagraphOverlap is the number of trailing paragraphs repeated at the
	// start of the next chunk.
	ParagraphOverlap int
}

// DefaultPlannerOptions returns the packing defaults.
func DefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		MaxTokensPerChunk: 800,
		MinTokensPerChunk: 200,
		ParagraphOverlap:  1,
	}
}

// GateOptions configures a backpressure gate.
type GateOptions struct {
	// PauseThreshold pauses producers at this ready depth. Zero disables
	// the gate entirely.
	PauseThreshold int

	// ResumeThreshold reopens the gate once depth falls to this level.
	ResumeThreshold int

	// PollInterval is how long a paused producer sleeps between re-checks.
	PollInterval time.Duration
}

// DownloadOptions configures the download worker pool.
type DownloadOptions struct {
	Workers        int
	MaxRetries     int
	BackoffBase    time.Duration
	RequestTimeout time.Duration
}

// AnalysisOptions configures one budgeted analysis worker kind.
type AnalysisOptions struct {
	Workers         int
	Model           string
	Temperature     float64
	MaxOutputTokens int
	MaxRetries      int
	BackoffBase     time.Duration
}

// BudgetOptions configures the per-service daily token ledger.
type BudgetOptions struct {
	// DailyAllotments maps service name to daily token limit. A missing or
	// non-positive entry means unlimited.
	DailyAllotments map[string]int

	// Cooldown is how long a worker sleeps after a budget deferral.
	Cooldown time.Duration

	// PromptOverheadTokens is the fixed scaffolding charge added to each
	// chunk's estimate when reserving budget.
	PromptOverheadTokens int
}

// PollerOptions configures the discovery pollers.
type PollerOptions struct {
	GlobalFeedURL      string
	GlobalInterval     time.Duration
	CompanyFeedBaseURL string
	CompanyInterval    time.Duration
	CompanyCIKs        []string
	UserAgent          string
	RequestsPerSecond  float64
}

// QueueOptions configures the durable queues.
type QueueOptions struct {
	DownloadQueue     string
	ParseQueue        string
	ChunkQueue        string
	VisibilityTimeout time.Duration
	SweepBatchSize    int
	DequeueWait       time.Duration
}

// Config is the assembled runtime configuration for the pipeline.
type Config struct {
	Queues   QueueOptions
	Gate     GateOptions
	Poller   PollerOptions
	Download DownloadOptions
	Planner  PlannerOptions
	Budget   BudgetOptions
	Summary  AnalysisOptions
	Entities AnalysisOptions
}
