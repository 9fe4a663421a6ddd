package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

const entitySystemPrompt = `You extract material events from SEC filings. ` +
	`Respond with a JSON object of the form ` +
	`{"entities": [{"type": "...", "entity": "...", "confidence": 0.0, "evidence": "..."}]}. ` +
	`Valid types: executive_change, guidance_update, litigation, debt_covenant, ` +
	`related_party_transaction, risk_factor_change, other. ` +
	`Confidence is between 0 and 1. Evidence quotes the supporting text. ` +
	`Respond with the JSON object only. If no material events are present, ` +
	`return {"entities": []}.`

var knownEntityTypes = map[domain.EntityType]bool{
	domain.EntityExecutiveChange:  true,
	domain.EntityGuidanceUpdate:   true,
	domain.EntityLitigation:       true,
	domain.EntityDebtCovenant:     true,
	domain.EntityRelatedParty:     true,
	domain.EntityRiskFactorChange: true,
	domain.EntityOther:            true,
}

// EntityHandler extracts typed material events from filing chunks and
// persists them as structured rows alongside the analysis record.
type EntityHandler struct {
	store driven.FilingStore
	opts  domain.AnalysisOptions
}

var _ AnalysisHandler = (*EntityHandler)(nil)

// NewEntityHandler creates the entity extraction handler.
func NewEntityHandler(store driven.FilingStore, opts domain.AnalysisOptions) *EntityHandler {
	return &EntityHandler{store: store, opts: opts}
}

// Kind returns the entity extraction analysis kind.
func (h *EntityHandler) Kind() domain.AnalysisKind {
	return domain.AnalysisKindEntities
}

// Options returns the handler's configuration.
func (h *EntityHandler) Options() domain.AnalysisOptions {
	return h.opts
}

// BuildRequest shapes the extraction prompt for a chunk.
func (h *EntityHandler) BuildRequest(job domain.ChunkJob) driven.CompletionRequest {
	user := fmt.Sprintf("Filing %s.\n\n%s", job.AccessionNumber, job.Content)
	return driven.CompletionRequest{
		Model: h.opts.Model,
		Messages: []driven.ChatMessage{
			{Role: "system", Content: entitySystemPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens:   h.opts.MaxOutputTokens,
		Temperature: h.opts.Temperature,
	}
}

// HandleResult parses the model's JSON contract and replaces the entities
// attached to the analysis. A response that is not valid JSON is logged and
// skipped rather than failing the job; the summary half of the analysis is
// still worth keeping.
func (h *EntityHandler) HandleResult(ctx context.Context, analysis *domain.Analysis, result *driven.CompletionResult) error {
	parsed, ok := parseEntityResponse(result.Content)
	if !ok {
		logger.Warn("entity response for job %s is not valid JSON, skipping extraction", analysis.JobID)
		return nil
	}

	entities := make([]domain.FilingEntity, 0, len(parsed))
	for _, e := range parsed {
		entityType := domain.EntityType(e.Type)
		if !knownEntityTypes[entityType] {
			entityType = domain.EntityOther
		}
		confidence := e.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		entities = append(entities, domain.FilingEntity{
			AnalysisID: analysis.ID,
			FilingID:   analysis.FilingID,
			Type:       entityType,
			Entity:     e.Entity,
			Confidence: confidence,
			Evidence:   e.Evidence,
		})
	}
	if err := h.store.SaveEntities(ctx, entities); err != nil {
		return fmt.Errorf("persisting entities for job %s: %w", analysis.JobID, err)
	}
	return nil
}

type rawEntity struct {
	Type       string  `json:"type"`
	Entity     string  `json:"entity"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// parseEntityResponse decodes the extraction contract, tolerating markdown
// code fences and a bare top-level array.
func parseEntityResponse(content string) ([]rawEntity, bool) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var wrapper struct {
		Entities []rawEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err == nil {
		return wrapper.Entities, true
	}

	var bare []rawEntity
	if err := json.Unmarshal([]byte(text), &bare); err == nil {
		return bare, true
	}
	return nil, false
}
