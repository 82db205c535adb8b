package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/booksearch/internal/cache"
	"github.com/bigkaa/booksearch/internal/domain/model"
	"github.com/bigkaa/booksearch/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock BookRepository ---

type mockBookRepo struct {
	mu       sync.Mutex
	upserts  int
	searches int
	getAlls  int
	getByIDs int

	upsertFn  func(rec *model.BookRecord) (*model.Book, error)
	searchFn  func(f repository.BookFilter) ([]model.Book, int, error)
	getByIDFn func(id string) (*model.Book, error)
	getAllFn  func() ([]model.Book, error)
}

func (m *mockBookRepo) Upsert(_ context.Context, rec *model.BookRecord) (*model.Book, error) {
	m.mu.Lock()
	m.upserts++
	m.mu.Unlock()
	if m.upsertFn != nil {
		return m.upsertFn(rec)
	}
	return &model.Book{ID: "id-" + rec.OpenLibraryID, Title: rec.Title, OpenLibraryID: rec.OpenLibraryID}, nil
}

func (m *mockBookRepo) Search(_ context.Context, f repository.BookFilter) ([]model.Book, int, error) {
	m.mu.Lock()
	m.searches++
	m.mu.Unlock()
	if m.searchFn != nil {
		return m.searchFn(f)
	}
	return nil, 0, nil
}

func (m *mockBookRepo) GetByID(_ context.Context, id string) (*model.Book, error) {
	m.mu.Lock()
	m.getByIDs++
	m.mu.Unlock()
	if m.getByIDFn != nil {
		return m.getByIDFn(id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockBookRepo) GetAll(_ context.Context) ([]model.Book, error) {
	m.mu.Lock()
	m.getAlls++
	m.mu.Unlock()
	if m.getAllFn != nil {
		return m.getAllFn()
	}
	return []model.Book{}, nil
}

// --- Mock CatalogClient ---

type mockCatalogClient struct {
	calls    int
	searchFn func(query string) ([]model.BookRecord, error)
}

func (m *mockCatalogClient) Search(_ context.Context, query string) ([]model.BookRecord, error) {
	m.calls++
	if m.searchFn != nil {
		return m.searchFn(query)
	}
	return nil, nil
}

// --- Побочные каналы ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SearchEvent
}

func (p *recordingPublisher) Publish(ev model.SearchEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) all() []model.SearchEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SearchEvent(nil), p.events...)
}

type recordedDuration struct {
	op       model.Operation
	duration time.Duration
}

type recordingDurations struct {
	mu      sync.Mutex
	samples []recordedDuration
}

func (r *recordingDurations) Record(op model.Operation, d time.Duration) {
	r.mu.Lock()
	r.samples = append(r.samples, recordedDuration{op: op, duration: d})
	r.mu.Unlock()
}

func (r *recordingDurations) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type mockMetricsReader struct {
	getFn func(op model.Operation, timeRange time.Duration) (*model.MetricsSummary, error)
}

func (m *mockMetricsReader) GetMetrics(_ context.Context, op model.Operation, timeRange time.Duration) (*model.MetricsSummary, error) {
	return m.getFn(op, timeRange)
}

// --- Сборка SearchService ---

type searchFixture struct {
	svc       *SearchService
	repo      *mockBookRepo
	client    *mockCatalogClient
	events    *recordingPublisher
	durations *recordingDurations
	metrics   *mockMetricsReader
}

func newSearchFixture() *searchFixture {
	f := &searchFixture{
		repo:      &mockBookRepo{},
		client:    &mockCatalogClient{},
		events:    &recordingPublisher{},
		durations: &recordingDurations{},
		metrics:   &mockMetricsReader{},
	}
	qc := cache.New(cache.NewMemoryStore(1000, time.Hour), testLogger())
	f.svc = NewSearchService(f.repo, f.client, qc, CacheTTLs{
		External: time.Hour,
		Local:    5 * time.Minute,
		AllBooks: time.Hour,
		Book:     time.Hour,
	}, f.events, f.durations, f.metrics, testLogger())
	return f
}

// --- Mock SearchLogRepository ---

type mockSearchLogRepo struct {
	insertFn func(l *model.SearchLog) (bool, error)
	listFn   func(f repository.LogFilter) ([]model.SearchLog, int, error)
}

func (m *mockSearchLogRepo) Insert(_ context.Context, l *model.SearchLog) (bool, error) {
	if m.insertFn != nil {
		return m.insertFn(l)
	}
	return true, nil
}

func (m *mockSearchLogRepo) List(_ context.Context, f repository.LogFilter) ([]model.SearchLog, int, error) {
	if m.listFn != nil {
		return m.listFn(f)
	}
	return nil, 0, nil
}
