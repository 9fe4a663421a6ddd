package domain

import "time"

// AnalysisKind distinguishes the closed set of budgeted job kinds.
type AnalysisKind string

// Supported analysis kinds.
const (
	AnalysisKindSummary  AnalysisKind = "section_summary"
	AnalysisKindEntities AnalysisKind = "entity_extraction"
)

// Analysis is one persisted LLM result for a chunk of a filing section.
type Analysis struct {
	ID               int64
	JobID            string
	FilingID         int64
	SectionID        int64
	Kind             AnalysisKind
	ChunkIndex       int
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CreatedAt        time.Time
}

// EntityType classifies a material event extracted from a filing.
type EntityType string

// Material event types the entity extractor recognises.
const (
	EntityExecutiveChange  EntityType = "executive_change"
	EntityGuidanceUpdate   EntityType = "guidance_update"
	EntityLitigation       EntityType = "litigation"
	EntityDebtCovenant     EntityType = "debt_covenant"
	EntityRelatedParty     EntityType = "related_party_transaction"
	EntityRiskFactorChange EntityType = "risk_factor_change"
	EntityOther            EntityType = "other"
)

// FilingEntity is a structured material event attached to an analysis.
type FilingEntity struct {
	ID         int64
	AnalysisID int64
	FilingID   int64
	Type       EntityType
	Entity     string
	Confidence float64
	Evidence   string
}
