package services

import (
	"context"
	"fmt"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

const summarySystemPrompt = `You are a financial analyst summarising SEC filings. ` +
	`Write a concise factual summary of the excerpt you are given. ` +
	`Lead with the most material information. Do not speculate beyond the text.`

// SummaryHandler produces a per-chunk summary of a filing section.
type SummaryHandler struct {
	opts domain.AnalysisOptions
}

var _ AnalysisHandler = (*SummaryHandler)(nil)

// NewSummaryHandler creates the summary analysis handler.
func NewSummaryHandler(opts domain.AnalysisOptions) *SummaryHandler {
	return &SummaryHandler{opts: opts}
}

// Kind returns the summary analysis kind.
func (h *SummaryHandler) Kind() domain.AnalysisKind {
	return domain.AnalysisKindSummary
}

// Options returns the handler's configuration.
func (h *SummaryHandler) Options() domain.AnalysisOptions {
	return h.opts
}

// BuildRequest shapes the summarisation prompt for a chunk.
func (h *SummaryHandler) BuildRequest(job domain.ChunkJob) driven.CompletionRequest {
	heading := job.SectionTitle
	if heading == "" {
		heading = "Untitled section"
	}
	user := fmt.Sprintf(
		"Filing %s, section %q (part %d).\n\n%s",
		job.AccessionNumber, heading, job.ChunkIndex+1, job.Content,
	)
	return driven.CompletionRequest{
		Model: h.opts.Model,
		Messages: []driven.ChatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens:   h.opts.MaxOutputTokens,
		Temperature: h.opts.Temperature,
	}
}

// HandleResult is a no-op; the summary text is the analysis record itself.
func (h *SummaryHandler) HandleResult(context.Context, *domain.Analysis, *driven.CompletionResult) error {
	return nil
}
