package driven

import (
	"context"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
)

// FilingStore persists companies, filings, blobs, sections and analyses.
// Backed by SQLite; every mutation is a single atomic per-record update.
type FilingStore interface {
	// UpsertCompany creates or updates a company by CIK and returns it.
	UpsertCompany(ctx context.Context, company domain.Company) (*domain.Company, error)

	// UpsertFiling creates or updates a filing by accession number and
	// returns it. A new filing starts in status pending.
	UpsertFiling(ctx context.Context, filing domain.Filing) (*domain.Filing, error)

	// GetFiling retrieves a filing by accession number.
	GetFiling(ctx context.Context, accessionNumber string) (*domain.Filing, error)

	// SetFilingStatus updates a filing's pipeline status.
	SetFilingStatus(ctx context.Context, accessionNumber string, status domain.FilingStatus) error

	// SaveBlob records where a downloaded artifact lives.
	SaveBlob(ctx context.Context, blob domain.FilingBlob) error

	// GetBlob retrieves the blob record of the given kind for a filing.
	GetBlob(ctx context.Context, filingID int64, kind domain.BlobKind) (*domain.FilingBlob, error)

	// ReplaceSections persists a new generation of sections for a filing.
	// The previous generation is superseded, not mutated.
	ReplaceSections(ctx context.Context, filingID int64, sections []domain.Section) ([]domain.Section, error)

	// GetSections returns the current generation's sections in ordinal order.
	GetSections(ctx context.Context, filingID int64) ([]domain.Section, error)

	// GetSection retrieves one current-generation section by ordinal.
	GetSection(ctx context.Context, filingID int64, ordinal int) (*domain.Section, error)

	// SaveAnalysis persists an LLM result and returns it with its ID set.
	SaveAnalysis(ctx context.Context, analysis domain.Analysis) (*domain.Analysis, error)

	// GetAnalysis retrieves the result a previous delivery of the job
	// persisted for this kind, or ErrNotFound.
	GetAnalysis(ctx context.Context, jobID string, kind domain.AnalysisKind) (*domain.Analysis, error)

	// SaveEntities persists structured entities for an analysis.
	SaveEntities(ctx context.Context, entities []domain.FilingEntity) error

	// ListAnalyses returns analyses for a filing, ordered by section
	// ordinal then chunk index.
	ListAnalyses(ctx context.Context, filingID int64, kind domain.AnalysisKind) ([]domain.Analysis, error)
}
