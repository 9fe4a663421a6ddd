package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "secintel-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

// createTestFiling persists a filing and returns it with its row ID populated.
func createTestFiling(t *testing.T, store *Store, accession string) *domain.Filing {
	t.Helper()
	ctx := context.Background()
	filings := store.FilingStore()

	company, err := filings.UpsertCompany(ctx, domain.Company{
		CIK:  "0000320193",
		Name: "Apple Inc.",
	})
	require.NoError(t, err)

	filing, err := filings.UpsertFiling(ctx, domain.Filing{
		CompanyID:       company.ID,
		CIK:             company.CIK,
		AccessionNumber: accession,
		FormType:        "8-K",
		FiledAt:         time.Now().UTC().Truncate(time.Second),
		SourceURLs:      []string{"https://www.sec.gov/Archives/edgar/data/320193/" + accession + "-index.htm"},
	})
	require.NoError(t, err)
	return filing
}

// ==================== Store Creation and Initialization Tests ====================

func TestNewStore_Success(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "secintel-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	dbPath := filepath.Join(tempDir, "pipeline.db")
	assert.Equal(t, dbPath, store.Path())
	assert.FileExists(t, dbPath)

	err = store.db.Ping()
	assert.NoError(t, err)
}

func TestNewStore_ErrorHandling(t *testing.T) {
	_, err := NewStore("/invalid\x00path")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "creating data directory")
}

func TestNewStore_Migrations(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	var count int
	err := store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Greater(t, count, 0, "should have at least one migration")

	tables := []string{
		"queue_items",
		"seen_accessions",
		"budget_ledger",
		"companies",
		"filings",
		"filing_blobs",
		"filing_sections",
		"filing_analyses",
		"filing_entities",
	}

	for _, table := range tables {
		var tableExists int
		err := store.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&tableExists)
		require.NoError(t, err)
		assert.Equal(t, 1, tableExists, "table %s should exist", table)
	}
}

func TestStore_MigrationIdempotency(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "secintel-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store1, err := NewStore(tempDir)
	require.NoError(t, err)

	var count1 int
	err = store1.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count1)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	// Reopening must not rerun applied migrations.
	store2, err := NewStore(tempDir)
	require.NoError(t, err)
	defer store2.Close()

	var count2 int
	err = store2.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count2)
	require.NoError(t, err)
	assert.Equal(t, count1, count2)
}

func TestStore_InterfaceGetters(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	assert.NotNil(t, store.Queue("downloads", time.Minute))
	assert.NotNil(t, store.SeenSet())
	assert.NotNil(t, store.BudgetLedger(map[string]int{"groq": 1000}))
	assert.NotNil(t, store.FilingStore())
}

// ==================== FilingStore Tests ====================

func TestFilingStore_UpsertCompany(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()

	company, err := filings.UpsertCompany(ctx, domain.Company{
		CIK:    "0000320193",
		Name:   "Apple Inc.",
		Ticker: "AAPL",
	})
	require.NoError(t, err)
	assert.NotZero(t, company.ID)
	assert.Equal(t, "Apple Inc.", company.Name)
	assert.Equal(t, "AAPL", company.Ticker)

	// A repeat upsert keeps the same row.
	again, err := filings.UpsertCompany(ctx, domain.Company{
		CIK:  "0000320193",
		Name: "Apple Inc.",
	})
	require.NoError(t, err)
	assert.Equal(t, company.ID, again.ID)
	assert.Equal(t, "AAPL", again.Ticker, "empty ticker must not clobber known ticker")
}

func TestFilingStore_UpsertCompany_PlaceholderName(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()

	// Feed entries sometimes arrive before the registrant name is known.
	company, err := filings.UpsertCompany(ctx, domain.Company{CIK: "0001652044"})
	require.NoError(t, err)
	assert.Equal(t, "Company 0001652044", company.Name)

	// A later poll with the real name upgrades the placeholder.
	company, err = filings.UpsertCompany(ctx, domain.Company{
		CIK:  "0001652044",
		Name: "Alphabet Inc.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Alphabet Inc.", company.Name)
}

func TestFilingStore_UpsertCompany_MissingCIK(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.FilingStore().UpsertCompany(context.Background(), domain.Company{Name: "No CIK"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFilingStore_UpsertAndGetFiling(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()
	filing := createTestFiling(t, store, "0000320193-26-000042")

	retrieved, err := filings.GetFiling(ctx, filing.AccessionNumber)
	require.NoError(t, err)
	assert.Equal(t, filing.ID, retrieved.ID)
	assert.Equal(t, "8-K", retrieved.FormType)
	assert.Equal(t, domain.FilingStatusPending, retrieved.Status)
	assert.Len(t, retrieved.SourceURLs, 1)
}

func TestFilingStore_UpsertFiling_PreservesStatus(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()
	filing := createTestFiling(t, store, "0000320193-26-000042")

	err := filings.SetFilingStatus(ctx, filing.AccessionNumber, domain.FilingStatusDownloaded)
	require.NoError(t, err)

	// Rediscovery upserts the same filing; the status must survive.
	_, err = filings.UpsertFiling(ctx, *filing)
	require.NoError(t, err)

	retrieved, err := filings.GetFiling(ctx, filing.AccessionNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.FilingStatusDownloaded, retrieved.Status)
	assert.False(t, retrieved.DownloadedAt.IsZero())
}

func TestFilingStore_GetFiling_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	retrieved, err := store.FilingStore().GetFiling(context.Background(), "0000000000-00-000000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, retrieved)
}

func TestFilingStore_SaveAndGetBlob(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()
	filing := createTestFiling(t, store, "0000320193-26-000042")

	blob := domain.FilingBlob{
		FilingID:    filing.ID,
		Kind:        domain.BlobKindRaw,
		Location:    "blobs/ab/cdef0123",
		Checksum:    "abcdef0123",
		ContentType: "text/html",
	}
	require.NoError(t, filings.SaveBlob(ctx, blob))

	retrieved, err := filings.GetBlob(ctx, filing.ID, domain.BlobKindRaw)
	require.NoError(t, err)
	assert.Equal(t, blob.Location, retrieved.Location)
	assert.Equal(t, blob.Checksum, retrieved.Checksum)
	assert.Equal(t, blob.ContentType, retrieved.ContentType)

	// A redownload replaces the record in place.
	blob.Location = "blobs/ff/99887766"
	blob.Checksum = "ff99887766"
	require.NoError(t, filings.SaveBlob(ctx, blob))

	retrieved, err = filings.GetBlob(ctx, filing.ID, domain.BlobKindRaw)
	require.NoError(t, err)
	assert.Equal(t, "ff99887766", retrieved.Checksum)

	_, err = filings.GetBlob(ctx, filing.ID, domain.BlobKindIndex)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilingStore_ReplaceSections(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()
	filing := createTestFiling(t, store, "0000320193-26-000042")

	first, err := filings.ReplaceSections(ctx, filing.ID, []domain.Section{
		{Ordinal: 0, Title: "Item 1.01", Content: "Entry into a material agreement."},
		{Ordinal: 1, Title: "Item 9.01", Content: "Financial statements and exhibits."},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 1, first[0].Generation)
	assert.NotZero(t, first[0].ID)

	// Reparsing produces a new generation; old sections become superseded.
	second, err := filings.ReplaceSections(ctx, filing.ID, []domain.Section{
		{Ordinal: 0, Title: "Item 1.01", Content: "Entry into a material agreement (amended)."},
	})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].Generation)

	current, err := filings.GetSections(ctx, filing.ID)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, 2, current[0].Generation)
	assert.Contains(t, current[0].Content, "amended")

	// Sections from the superseded generation are not retrievable by ordinal.
	section, err := filings.GetSection(ctx, filing.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, section.Generation)

	_, err = filings.GetSection(ctx, filing.ID, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilingStore_SaveAnalysis_Idempotent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()
	filing := createTestFiling(t, store, "0000320193-26-000042")

	sections, err := filings.ReplaceSections(ctx, filing.ID, []domain.Section{
		{Ordinal: 0, Title: "Item 1.01", Content: "Material agreement."},
	})
	require.NoError(t, err)

	analysis := domain.Analysis{
		JobID:            "job-1",
		FilingID:         filing.ID,
		SectionID:        sections[0].ID,
		Kind:             domain.AnalysisKindSummary,
		ChunkIndex:       0,
		Content:          "The company entered a material agreement.",
		Model:            "llama-3.3-70b-versatile",
		PromptTokens:     120,
		CompletionTokens: 40,
		TotalTokens:      160,
	}

	saved, err := filings.SaveAnalysis(ctx, analysis)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	// A redelivered job writes over its own earlier result.
	analysis.Content = "Amended summary."
	again, err := filings.SaveAnalysis(ctx, analysis)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, again.ID)

	results, err := filings.ListAnalyses(ctx, filing.ID, domain.AnalysisKindSummary)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Amended summary.", results[0].Content)

	// Lookup by job id and kind resolves the same row.
	got, err := filings.GetAnalysis(ctx, "job-1", domain.AnalysisKindSummary)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, "Amended summary.", got.Content)
	assert.Equal(t, 160, got.TotalTokens)

	_, err = filings.GetAnalysis(ctx, "job-1", domain.AnalysisKindEntities)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilingStore_ListAnalyses_Ordering(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()
	filing := createTestFiling(t, store, "0000320193-26-000042")

	sections, err := filings.ReplaceSections(ctx, filing.ID, []domain.Section{
		{Ordinal: 0, Title: "Item 1.01", Content: "First."},
		{Ordinal: 1, Title: "Item 9.01", Content: "Second."},
	})
	require.NoError(t, err)

	// Insert out of order to exercise the sort.
	inserts := []domain.Analysis{
		{JobID: "job-s1-c0", SectionID: sections[1].ID, ChunkIndex: 0},
		{JobID: "job-s0-c1", SectionID: sections[0].ID, ChunkIndex: 1},
		{JobID: "job-s0-c0", SectionID: sections[0].ID, ChunkIndex: 0},
	}
	for _, a := range inserts {
		a.FilingID = filing.ID
		a.Kind = domain.AnalysisKindSummary
		a.Content = a.JobID
		a.Model = "llama-3.3-70b-versatile"
		_, err := filings.SaveAnalysis(ctx, a)
		require.NoError(t, err)
	}

	results, err := filings.ListAnalyses(ctx, filing.ID, domain.AnalysisKindSummary)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "job-s0-c0", results[0].Content)
	assert.Equal(t, "job-s0-c1", results[1].Content)
	assert.Equal(t, "job-s1-c0", results[2].Content)
}

func TestFilingStore_SaveEntities_ReplacesPreviousDelivery(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	filings := store.FilingStore()
	filing := createTestFiling(t, store, "0000320193-26-000042")

	sections, err := filings.ReplaceSections(ctx, filing.ID, []domain.Section{
		{Ordinal: 0, Title: "Item 5.02", Content: "Departure of directors."},
	})
	require.NoError(t, err)

	analysis, err := filings.SaveAnalysis(ctx, domain.Analysis{
		JobID:     "job-1",
		FilingID:  filing.ID,
		SectionID: sections[0].ID,
		Kind:      domain.AnalysisKindEntities,
		Content:   `{"entities":[]}`,
		Model:     "llama-3.3-70b-versatile",
	})
	require.NoError(t, err)

	first := []domain.FilingEntity{
		{AnalysisID: analysis.ID, FilingID: filing.ID, Type: domain.EntityExecutiveChange,
			Entity: "CFO resignation", Confidence: 0.9, Evidence: "announced the resignation of its CFO"},
		{AnalysisID: analysis.ID, FilingID: filing.ID, Type: domain.EntityOther,
			Entity: "transition plan", Confidence: 0.4},
	}
	require.NoError(t, filings.SaveEntities(ctx, first))

	// A redelivery writes a fresh set; no duplicates accumulate.
	second := []domain.FilingEntity{
		{AnalysisID: analysis.ID, FilingID: filing.ID, Type: domain.EntityExecutiveChange,
			Entity: "CFO resignation", Confidence: 0.92},
	}
	require.NoError(t, filings.SaveEntities(ctx, second))

	var count int
	err = store.db.QueryRow(
		"SELECT COUNT(*) FROM filing_entities WHERE analysis_id = ?", analysis.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFilingStore_ContextCancellation(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.FilingStore().UpsertCompany(ctx, domain.Company{CIK: "0000320193", Name: "Apple Inc."})
	assert.Error(t, err)
}
