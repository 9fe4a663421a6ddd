package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// filingStore implements driven.FilingStore.
type filingStore struct {
	store *Store
}

var _ driven.FilingStore = (*filingStore)(nil)

// UpsertCompany creates or updates a company by CIK.
func (s *filingStore) UpsertCompany(ctx context.Context, company domain.Company) (*domain.Company, error) {
	if company.CIK == "" {
		return nil, domain.ErrInvalidInput
	}
	if company.Name == "" {
		company.Name = "Company " + company.CIK
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO companies (cik, name, ticker)
		VALUES (?, ?, ?)
		ON CONFLICT(cik) DO UPDATE SET
			name = CASE WHEN excluded.name LIKE 'Company %' THEN companies.name ELSE excluded.name END,
			ticker = COALESCE(NULLIF(excluded.ticker, ''), companies.ticker)
	`, company.CIK, company.Name, nullString(company.Ticker))
	if err != nil {
		return nil, fmt.Errorf("upserting company: %w", err)
	}

	return s.getCompanyByCIK(ctx, company.CIK)
}

func (s *filingStore) getCompanyByCIK(ctx context.Context, cik string) (*domain.Company, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT id, cik, name, ticker FROM companies WHERE cik = ?", cik)

	var company domain.Company
	var ticker sql.NullString
	if err := row.Scan(&company.ID, &company.CIK, &company.Name, &ticker); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning company: %w", err)
	}
	company.Ticker = ticker.String
	return &company, nil
}

// UpsertFiling creates or updates a filing by accession number.
func (s *filingStore) UpsertFiling(ctx context.Context, filing domain.Filing) (*domain.Filing, error) {
	if filing.AccessionNumber == "" {
		return nil, domain.ErrInvalidInput
	}

	urlsJSON, err := json.Marshal(filing.SourceURLs)
	if err != nil {
		return nil, fmt.Errorf("marshalling source urls: %w", err)
	}
	if filing.Status == "" {
		filing.Status = domain.FilingStatusPending
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO filings (company_id, cik, accession_number, form_type, filed_at, source_urls, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(accession_number) DO UPDATE SET
			company_id = excluded.company_id,
			cik = excluded.cik,
			form_type = excluded.form_type,
			filed_at = excluded.filed_at,
			source_urls = excluded.source_urls
	`, filing.CompanyID, filing.CIK, filing.AccessionNumber, filing.FormType,
		nullTime(filing.FiledAt), string(urlsJSON), string(filing.Status))
	if err != nil {
		return nil, fmt.Errorf("upserting filing: %w", err)
	}

	return s.GetFiling(ctx, filing.AccessionNumber)
}

// GetFiling retrieves a filing by accession number.
func (s *filingStore) GetFiling(ctx context.Context, accessionNumber string) (*domain.Filing, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, company_id, cik, accession_number, form_type, filed_at, source_urls, status, downloaded_at
		FROM filings WHERE accession_number = ?
	`, accessionNumber)

	var filing domain.Filing
	var filedAt, downloadedAt sql.NullTime
	var urlsJSON, status string
	if err := row.Scan(&filing.ID, &filing.CompanyID, &filing.CIK, &filing.AccessionNumber,
		&filing.FormType, &filedAt, &urlsJSON, &status, &downloadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning filing: %w", err)
	}

	if err := json.Unmarshal([]byte(urlsJSON), &filing.SourceURLs); err != nil {
		return nil, fmt.Errorf("unmarshalling source urls: %w", err)
	}
	filing.Status = domain.FilingStatus(status)
	if filedAt.Valid {
		filing.FiledAt = filedAt.Time
	}
	if downloadedAt.Valid {
		filing.DownloadedAt = downloadedAt.Time
	}
	return &filing, nil
}

// SetFilingStatus updates a filing's pipeline status. Reaching downloaded
// also stamps the download time.
func (s *filingStore) SetFilingStatus(ctx context.Context, accessionNumber string, status domain.FilingStatus) error {
	var err error
	if status == domain.FilingStatusDownloaded {
		_, err = s.store.db.ExecContext(ctx, `
			UPDATE filings SET status = ?, downloaded_at = ? WHERE accession_number = ?
		`, string(status), time.Now().UTC(), accessionNumber)
	} else {
		_, err = s.store.db.ExecContext(ctx, `
			UPDATE filings SET status = ? WHERE accession_number = ?
		`, string(status), accessionNumber)
	}
	if err != nil {
		return fmt.Errorf("setting filing status: %w", err)
	}
	return nil
}

// SaveBlob records where a downloaded artifact lives.
func (s *filingStore) SaveBlob(ctx context.Context, blob domain.FilingBlob) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO filing_blobs (filing_id, kind, location, checksum, content_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(filing_id, kind) DO UPDATE SET
			location = excluded.location,
			checksum = excluded.checksum,
			content_type = excluded.content_type
	`, blob.FilingID, string(blob.Kind), blob.Location, blob.Checksum, nullString(blob.ContentType))
	if err != nil {
		return fmt.Errorf("saving blob: %w", err)
	}
	return nil
}

// GetBlob retrieves the blob record of the given kind for a filing.
func (s *filingStore) GetBlob(ctx context.Context, filingID int64, kind domain.BlobKind) (*domain.FilingBlob, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT filing_id, kind, location, checksum, content_type
		FROM filing_blobs WHERE filing_id = ? AND kind = ?
	`, filingID, string(kind))

	var blob domain.FilingBlob
	var blobKind string
	var contentType sql.NullString
	if err := row.Scan(&blob.FilingID, &blobKind, &blob.Location, &blob.Checksum, &contentType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning blob: %w", err)
	}
	blob.Kind = domain.BlobKind(blobKind)
	blob.ContentType = contentType.String
	return &blob, nil
}

// ReplaceSections persists a new generation of sections for a filing.
// The previous generation is marked superseded inside the same transaction.
func (s *filingStore) ReplaceSections(ctx context.Context, filingID int64, sections []domain.Section) ([]domain.Section, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var generation int
	row := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(generation), 0) + 1 FROM filing_sections WHERE filing_id = ?", filingID)
	if err := row.Scan(&generation); err != nil {
		return nil, fmt.Errorf("computing generation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE filing_sections SET superseded = 1 WHERE filing_id = ? AND superseded = 0",
		filingID); err != nil {
		return nil, fmt.Errorf("superseding sections: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO filing_sections (filing_id, ordinal, title, content, generation, superseded)
		VALUES (?, ?, ?, ?, ?, 0)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	saved := make([]domain.Section, 0, len(sections))
	for _, section := range sections {
		res, err := stmt.ExecContext(ctx, filingID, section.Ordinal, section.Title,
			section.Content, generation)
		if err != nil {
			return nil, fmt.Errorf("inserting section: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading section id: %w", err)
		}
		section.ID = id
		section.FilingID = filingID
		section.Generation = generation
		saved = append(saved, section)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return saved, nil
}

// GetSections returns the current generation's sections in ordinal order.
func (s *filingStore) GetSections(ctx context.Context, filingID int64) ([]domain.Section, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, filing_id, ordinal, title, content, generation
		FROM filing_sections
		WHERE filing_id = ? AND superseded = 0
		ORDER BY ordinal
	`, filingID)
	if err != nil {
		return nil, fmt.Errorf("querying sections: %w", err)
	}
	defer rows.Close()

	var sections []domain.Section //nolint:prealloc // size unknown from query
	for rows.Next() {
		var section domain.Section
		if err := rows.Scan(&section.ID, &section.FilingID, &section.Ordinal,
			&section.Title, &section.Content, &section.Generation); err != nil {
			return nil, fmt.Errorf("scanning section: %w", err)
		}
		sections = append(sections, section)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sections: %w", err)
	}
	return sections, nil
}

// GetSection retrieves one current-generation section by ordinal.
func (s *filingStore) GetSection(ctx context.Context, filingID int64, ordinal int) (*domain.Section, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, filing_id, ordinal, title, content, generation
		FROM filing_sections
		WHERE filing_id = ? AND ordinal = ? AND superseded = 0
		LIMIT 1
	`, filingID, ordinal)

	var section domain.Section
	if err := row.Scan(&section.ID, &section.FilingID, &section.Ordinal,
		&section.Title, &section.Content, &section.Generation); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning section: %w", err)
	}
	return &section, nil
}

// SaveAnalysis persists an LLM result. A redelivered job that already wrote
// its result updates in place rather than duplicating.
func (s *filingStore) SaveAnalysis(ctx context.Context, analysis domain.Analysis) (*domain.Analysis, error) {
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now().UTC()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO filing_analyses
			(job_id, filing_id, section_id, kind, chunk_index, content, model,
			 prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, kind) DO UPDATE SET
			content = excluded.content,
			model = excluded.model,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			total_tokens = excluded.total_tokens
	`, analysis.JobID, analysis.FilingID, analysis.SectionID, string(analysis.Kind),
		analysis.ChunkIndex, analysis.Content, analysis.Model,
		analysis.PromptTokens, analysis.CompletionTokens, analysis.TotalTokens,
		analysis.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("saving analysis: %w", err)
	}

	// last_insert_rowid is unreliable after an upsert that took the
	// conflict branch, so resolve the row id by its natural key.
	row := s.store.db.QueryRowContext(ctx,
		"SELECT id FROM filing_analyses WHERE job_id = ? AND kind = ?",
		analysis.JobID, string(analysis.Kind))
	if err := row.Scan(&analysis.ID); err != nil {
		return nil, fmt.Errorf("reading analysis id: %w", err)
	}
	return &analysis, nil
}

// GetAnalysis retrieves one analysis by its job id and kind.
func (s *filingStore) GetAnalysis(ctx context.Context, jobID string, kind domain.AnalysisKind) (*domain.Analysis, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, job_id, filing_id, section_id, kind, chunk_index, content, model,
		       prompt_tokens, completion_tokens, total_tokens, created_at
		FROM filing_analyses WHERE job_id = ? AND kind = ?
	`, jobID, string(kind))

	var analysis domain.Analysis
	var analysisKind string
	var createdAt sql.NullTime
	if err := row.Scan(&analysis.ID, &analysis.JobID, &analysis.FilingID,
		&analysis.SectionID, &analysisKind, &analysis.ChunkIndex,
		&analysis.Content, &analysis.Model, &analysis.PromptTokens,
		&analysis.CompletionTokens, &analysis.TotalTokens, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning analysis: %w", err)
	}
	analysis.Kind = domain.AnalysisKind(analysisKind)
	if createdAt.Valid {
		analysis.CreatedAt = createdAt.Time
	}
	return &analysis, nil
}

// SaveEntities persists structured entities for an analysis, replacing any
// rows a previous delivery of the same job wrote.
func (s *filingStore) SaveEntities(ctx context.Context, entities []domain.FilingEntity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM filing_entities WHERE analysis_id = ?", entities[0].AnalysisID); err != nil {
		return fmt.Errorf("clearing previous entities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO filing_entities (analysis_id, filing_id, type, entity, confidence, evidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, entity := range entities {
		if _, err := stmt.ExecContext(ctx, entity.AnalysisID, entity.FilingID,
			string(entity.Type), entity.Entity, entity.Confidence,
			nullString(entity.Evidence)); err != nil {
			return fmt.Errorf("saving entity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListAnalyses returns analyses for a filing ordered by section then chunk.
func (s *filingStore) ListAnalyses(ctx context.Context, filingID int64, kind domain.AnalysisKind) ([]domain.Analysis, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT a.id, a.job_id, a.filing_id, a.section_id, a.kind, a.chunk_index,
		       a.content, a.model, a.prompt_tokens, a.completion_tokens, a.total_tokens, a.created_at
		FROM filing_analyses a
		JOIN filing_sections s ON s.id = a.section_id
		WHERE a.filing_id = ? AND a.kind = ?
		ORDER BY s.ordinal, a.chunk_index
	`, filingID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	var analyses []domain.Analysis //nolint:prealloc // size unknown from query
	for rows.Next() {
		var analysis domain.Analysis
		var analysisKind string
		var createdAt sql.NullTime
		if err := rows.Scan(&analysis.ID, &analysis.JobID, &analysis.FilingID,
			&analysis.SectionID, &analysisKind, &analysis.ChunkIndex,
			&analysis.Content, &analysis.Model, &analysis.PromptTokens,
			&analysis.CompletionTokens, &analysis.TotalTokens, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		analysis.Kind = domain.AnalysisKind(analysisKind)
		if createdAt.Valid {
			analysis.CreatedAt = createdAt.Time
		}
		analyses = append(analyses, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating analyses: %w", err)
	}
	return analyses, nil
}
