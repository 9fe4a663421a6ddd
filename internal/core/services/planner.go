// Package services contains the core pipeline services: discovery pollers,
// download and parse workers, the backpressure gate, the chunk planner and
// the budget-gated analysis workers.
package services

import (
	"strings"

	"github.com/google/uuid"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
)

// EstimateTokens approximates the token count of text as ceil(words * 1.3).
// Good enough for budget reservations; actual usage is reconciled after the
// provider reports it.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*13 + 9) / 10
}

// Planner packs section paragraphs into token-bounded chunk jobs.
type Planner struct {
	opts domain.PlannerOptions
}

// NewPlanner creates a planner. Non-positive bounds fall back to defaults.
func NewPlanner(opts domain.PlannerOptions) *Planner {
	defaults := domain.DefaultPlannerOptions()
	if opts.MaxTokensPerChunk <= 0 {
		opts.MaxTokensPerChunk = defaults.MaxTokensPerChunk
	}
	if opts.MinTokensPerChunk <= 0 {
		opts.MinTokensPerChunk = defaults.MinTokensPerChunk
	}
	if opts.ParagraphOverlap < 0 {
		opts.ParagraphOverlap = 0
	}
	return &Planner{opts: opts}
}

// Plan splits a section into chunk jobs. Paragraphs are packed greedily:
// a chunk closes when admitting the next paragraph would cross the max bound,
// unless the chunk is still under the min bound. The last ParagraphOverlap
// paragraphs of a chunk are repeated at the start of its successor, and the
// repeated text counts toward the successor's estimate. A single paragraph
// larger than the max bound becomes a chunk of its own.
//
// Chunks for an empty section are nil. Paragraph indices in the returned jobs
// are inclusive on both ends.
func (p *Planner) Plan(accessionNumber string, section domain.Section) []domain.ChunkJob {
	paras := splitParagraphs(section.Content)
	if len(paras) == 0 {
		return nil
	}

	estimates := make([]int, len(paras))
	for i, para := range paras {
		estimates[i] = EstimateTokens(para)
	}

	var jobs []domain.ChunkJob
	start := 0
	for start < len(paras) {
		end := start
		total := estimates[start]
		for end+1 < len(paras) {
			next := estimates[end+1]
			// Past the ceiling a chunk still grows while under the floor.
			if total+next > p.opts.MaxTokensPerChunk && total >= p.opts.MinTokensPerChunk {
				break
			}
			end++
			total += next
		}

		jobs = append(jobs, domain.ChunkJob{
			JobID:           uuid.New().String(),
			AccessionNumber: accessionNumber,
			SectionOrdinal:  section.Ordinal,
			SectionTitle:    section.Title,
			ChunkIndex:      len(jobs),
			StartParagraph:  start,
			EndParagraph:    end,
			Content:         strings.Join(paras[start:end+1], "\n\n"),
			EstimatedTokens: total,
		})

		if end == len(paras)-1 {
			break
		}
		next := end + 1 - p.opts.ParagraphOverlap
		if next <= start {
			// The overlap must never stall progress.
			next = start + 1
		}
		start = next
	}
	return jobs
}

func splitParagraphs(text string) []string {
	var paras []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paras = append(paras, block)
		}
	}
	return paras
}
