package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// mockFilingStore is an in-memory FilingStore for service tests.
type mockFilingStore struct {
	mu        sync.Mutex
	nextID    int64
	companies map[string]*domain.Company
	filings   map[string]*domain.Filing
	blobs     map[string]*domain.FilingBlob
	sections  map[int64][]domain.Section
	analyses  map[string]*domain.Analysis
	entities  map[int64][]domain.FilingEntity

	failGetFiling error
}

var _ driven.FilingStore = (*mockFilingStore)(nil)

func newMockFilingStore() *mockFilingStore {
	return &mockFilingStore{
		companies: make(map[string]*domain.Company),
		filings:   make(map[string]*domain.Filing),
		blobs:     make(map[string]*domain.FilingBlob),
		sections:  make(map[int64][]domain.Section),
		analyses:  make(map[string]*domain.Analysis),
		entities:  make(map[int64][]domain.FilingEntity),
	}
}

func (m *mockFilingStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockFilingStore) UpsertCompany(_ context.Context, company domain.Company) (*domain.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.companies[company.CIK]; ok {
		if company.Name != "" {
			existing.Name = company.Name
		}
		copied := *existing
		return &copied, nil
	}
	company.ID = m.id()
	m.companies[company.CIK] = &company
	copied := company
	return &copied, nil
}

func (m *mockFilingStore) UpsertFiling(_ context.Context, filing domain.Filing) (*domain.Filing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.filings[filing.AccessionNumber]; ok {
		copied := *existing
		return &copied, nil
	}
	filing.ID = m.id()
	if filing.Status == "" {
		filing.Status = domain.FilingStatusPending
	}
	m.filings[filing.AccessionNumber] = &filing
	copied := filing
	return &copied, nil
}

func (m *mockFilingStore) GetFiling(_ context.Context, accessionNumber string) (*domain.Filing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetFiling != nil {
		return nil, m.failGetFiling
	}
	filing, ok := m.filings[accessionNumber]
	if !ok {
		return nil, fmt.Errorf("filing %s: %w", accessionNumber, domain.ErrNotFound)
	}
	copied := *filing
	return &copied, nil
}

func (m *mockFilingStore) SetFilingStatus(_ context.Context, accessionNumber string, status domain.FilingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	filing, ok := m.filings[accessionNumber]
	if !ok {
		return fmt.Errorf("filing %s: %w", accessionNumber, domain.ErrNotFound)
	}
	filing.Status = status
	return nil
}

func (m *mockFilingStore) status(accessionNumber string) domain.FilingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if filing, ok := m.filings[accessionNumber]; ok {
		return filing.Status
	}
	return ""
}

func blobKey(filingID int64, kind domain.BlobKind) string {
	return fmt.Sprintf("%d/%s", filingID, kind)
}

func (m *mockFilingStore) SaveBlob(_ context.Context, blob domain.FilingBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := blob
	m.blobs[blobKey(blob.FilingID, blob.Kind)] = &copied
	return nil
}

func (m *mockFilingStore) GetBlob(_ context.Context, filingID int64, kind domain.BlobKind) (*domain.FilingBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[blobKey(filingID, kind)]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", kind, domain.ErrNotFound)
	}
	copied := *blob
	return &copied, nil
}

func (m *mockFilingStore) ReplaceSections(_ context.Context, filingID int64, sections []domain.Section) ([]domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make([]domain.Section, len(sections))
	for i, section := range sections {
		section.ID = m.id()
		section.FilingID = filingID
		saved[i] = section
	}
	m.sections[filingID] = saved
	return saved, nil
}

func (m *mockFilingStore) GetSections(_ context.Context, filingID int64) ([]domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Section(nil), m.sections[filingID]...), nil
}

func (m *mockFilingStore) GetSection(_ context.Context, filingID int64, ordinal int) (*domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, section := range m.sections[filingID] {
		if section.Ordinal == ordinal {
			copied := section
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("section %d: %w", ordinal, domain.ErrNotFound)
}

func analysisKey(jobID string, kind domain.AnalysisKind) string {
	return jobID + "/" + string(kind)
}

func (m *mockFilingStore) SaveAnalysis(_ context.Context, analysis domain.Analysis) (*domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := analysisKey(analysis.JobID, analysis.Kind)
	if existing, ok := m.analyses[key]; ok {
		analysis.ID = existing.ID
	} else {
		analysis.ID = m.id()
	}
	copied := analysis
	m.analyses[key] = &copied
	result := analysis
	return &result, nil
}

func (m *mockFilingStore) GetAnalysis(_ context.Context, jobID string, kind domain.AnalysisKind) (*domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	analysis, ok := m.analyses[analysisKey(jobID, kind)]
	if !ok {
		return nil, fmt.Errorf("analysis %s/%s: %w", jobID, kind, domain.ErrNotFound)
	}
	copied := *analysis
	return &copied, nil
}

func (m *mockFilingStore) SaveEntities(_ context.Context, entities []domain.FilingEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(entities) == 0 {
		return nil
	}
	m.entities[entities[0].AnalysisID] = append([]domain.FilingEntity(nil), entities...)
	return nil
}

func (m *mockFilingStore) ListAnalyses(_ context.Context, filingID int64, kind domain.AnalysisKind) ([]domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Analysis
	for _, analysis := range m.analyses {
		if analysis.FilingID == filingID && analysis.Kind == kind {
			out = append(out, *analysis)
		}
	}
	return out, nil
}

func (m *mockFilingStore) analysisCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.analyses)
}

// mockFeedClient returns scripted feed entries.
type mockFeedClient struct {
	mu      sync.Mutex
	entries map[string][]domain.FeedEntry
	err     error
	calls   []string
}

var _ driven.FeedClient = (*mockFeedClient)(nil)

func (m *mockFeedClient) Fetch(_ context.Context, url string) ([]domain.FeedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if m.err != nil {
		return nil, m.err
	}
	return m.entries[url], nil
}

// mockFetcher serves scripted bodies per URL with optional leading failures.
type mockFetcher struct {
	mu       sync.Mutex
	bodies   map[string][]byte
	types    map[string]string
	failures map[string][]error
	calls    map[string]int
}

var _ driven.Fetcher = (*mockFetcher)(nil)

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		bodies:   make(map[string][]byte),
		types:    make(map[string]string),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (m *mockFetcher) Fetch(_ context.Context, url string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[url]++
	if queued := m.failures[url]; len(queued) > 0 {
		err := queued[0]
		m.failures[url] = queued[1:]
		return nil, "", err
	}
	body, ok := m.bodies[url]
	if !ok {
		return nil, "", fmt.Errorf("%w: no document at %s", domain.ErrFatal, url)
	}
	contentType := m.types[url]
	if contentType == "" {
		contentType = "text/html"
	}
	return body, contentType, nil
}

// mockObjectStore keeps blobs in a map keyed by storage key.
type mockObjectStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

var _ driven.ObjectStore = (*mockObjectStore)(nil)

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{blobs: make(map[string][]byte)}
}

func (m *mockObjectStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *mockObjectStore) Get(_ context.Context, location string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[location]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", location, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// mockCompletion replays scripted results and errors in order.
type mockCompletion struct {
	mu      sync.Mutex
	results []*driven.CompletionResult
	errs    []error
	calls   int
	reqs    []driven.CompletionRequest
}

var _ driven.CompletionService = (*mockCompletion)(nil)

func (m *mockCompletion) Complete(_ context.Context, req driven.CompletionRequest) (*driven.CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.reqs = append(m.reqs, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.results) {
		return m.results[i], nil
	}
	return &driven.CompletionResult{
		Content:          "ok",
		Model:            "test-model",
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
	}, nil
}

func (m *mockCompletion) ModelName() string { return "test-model" }
func (m *mockCompletion) Close() error      { return nil }

func (m *mockCompletion) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
