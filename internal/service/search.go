package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/booksearch/internal/cache"
	"github.com/bigkaa/booksearch/internal/domain/model"
	"github.com/bigkaa/booksearch/internal/repository"
)

// maxParallelUpserts - ограничение одновременных upsert при импорте.
const maxParallelUpserts = 8

// CatalogClient - внешний каталог книг.
type CatalogClient interface {
	Search(ctx context.Context, query string) ([]model.BookRecord, error)
}

// EventPublisher - неблокирующая публикация событий поиска.
type EventPublisher interface {
	Publish(event model.SearchEvent)
}

// DurationRecorder - неблокирующая запись длительностей операций.
type DurationRecorder interface {
	Record(op model.Operation, duration time.Duration)
}

// MetricsReader - чтение агрегированных метрик.
type MetricsReader interface {
	GetMetrics(ctx context.Context, op model.Operation, timeRange time.Duration) (*model.MetricsSummary, error)
}

// CacheTTLs - время жизни записей кэша по видам запросов.
type CacheTTLs struct {
	External time.Duration
	Local    time.Duration
	AllBooks time.Duration
	Book     time.Duration
}

// SearchService - оркестрация поиска книг.
//
// Поиск (внешний и локальный) выполняется по схеме cache-aside:
// при попадании в кэш результат возвращается без побочных эффектов;
// при промахе данные получаются из источника, кэшируются, затем ставятся
// в очередь событие и метрика длительности. Неудачный запрос к источнику
// тоже порождает событие (success=false) и метрику.
type SearchService struct {
	books     repository.BookRepository
	client    CatalogClient
	cache     *cache.QueryCache
	ttl       CacheTTLs
	events    EventPublisher
	durations DurationRecorder
	metrics   MetricsReader
	now       func() time.Time
	logger    *slog.Logger
}

// NewSearchService создаёт SearchService.
func NewSearchService(
	books repository.BookRepository,
	client CatalogClient,
	queryCache *cache.QueryCache,
	ttl CacheTTLs,
	events EventPublisher,
	durations DurationRecorder,
	metrics MetricsReader,
	logger *slog.Logger,
) *SearchService {
	return &SearchService{
		books:     books,
		client:    client,
		cache:     queryCache,
		ttl:       ttl,
		events:    events,
		durations: durations,
		metrics:   metrics,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "search_service")),
	}
}

// ExternalSearch ищет книги во внешнем каталоге и импортирует результаты.
func (s *SearchService) ExternalSearch(ctx context.Context, query string) ([]model.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: параметр query обязателен", ErrValidation)
	}

	start := s.now()
	key := externalSearchKey(query)

	var cached []model.Book
	if s.cache.Get(ctx, key, &cached) {
		s.logger.Debug("Попадание в кэш внешнего поиска", slog.String("query", query))
		return cached, nil
	}

	records, err := s.client.Search(ctx, query)
	if err != nil {
		s.logger.Warn("Ошибка запроса к внешнему каталогу",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		err = fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
		s.sideEffects(model.OperationExternalSearch, query, 0, start, err)
		return nil, err
	}

	books, err := s.importRecords(ctx, records)
	if err != nil {
		s.logger.Error("Ошибка сохранения импортированных книг",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		s.sideEffects(model.OperationExternalSearch, query, 0, start, err)
		return nil, err
	}

	s.cache.Set(ctx, key, books, s.ttl.External)

	// Чтения списка и карточек не должны отдавать версию до импорта
	stale := make([]string, 0, len(books)+1)
	stale = append(stale, allBooksKey)
	for _, b := range books {
		stale = append(stale, bookKey(b.ID))
	}
	s.cache.Invalidate(ctx, stale...)

	s.sideEffects(model.OperationExternalSearch, query, len(books), start, nil)
	return books, nil
}

// importRecords выполняет upsert всех записей параллельно и дожидается
// завершения каждой. Первая ошибка возвращается как ErrPersistence.
func (s *SearchService) importRecords(ctx context.Context, records []model.BookRecord) ([]model.Book, error) {
	books := make([]model.Book, len(records))

	var g errgroup.Group
	g.SetLimit(maxParallelUpserts)
	for i := range records {
		g.Go(func() error {
			b, err := s.books.Upsert(ctx, &records[i])
			if err != nil {
				return err
			}
			books[i] = *b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return books, nil
}

// normalizeFilter проверяет фильтр и приводит его к канонической форме:
// пустые строки снимают фильтр, sortBy и order переводятся в нижний регистр.
func normalizeFilter(f repository.BookFilter) (repository.BookFilter, error) {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		if v == "" {
			return nil
		}
		return &v
	}
	f.Query = trim(f.Query)
	f.Author = trim(f.Author)
	f.ISBN = trim(f.ISBN)
	f.SortBy = strings.ToLower(strings.TrimSpace(f.SortBy))
	f.Order = strings.ToLower(strings.TrimSpace(f.Order))

	switch f.SortBy {
	case "", repository.SortRelevance, repository.SortTitle, repository.SortYear, repository.SortAuthor:
	default:
		return f, fmt.Errorf("%w: sortBy должен быть одним из relevance, title, year, author", ErrValidation)
	}
	switch f.Order {
	case "", "asc", "desc":
	default:
		return f, fmt.Errorf("%w: order должен быть asc или desc", ErrValidation)
	}
	if f.Year != nil && *f.Year < 0 {
		return f, fmt.Errorf("%w: year не может быть отрицательным", ErrValidation)
	}
	if err := validatePage(f.Page, f.Limit); err != nil {
		return f, err
	}
	return f, nil
}

// filterQuery - строка запроса для события поиска: q или пустая строка.
func filterQuery(f repository.BookFilter) string {
	if f.Query == nil {
		return ""
	}
	return *f.Query
}

// LocalSearch ищет книги в локальном каталоге.
func (s *SearchService) LocalSearch(ctx context.Context, filter repository.BookFilter) (*model.SearchResult, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	start := s.now()
	key := localSearchKey(filter)

	var cached model.SearchResult
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	items, total, err := s.books.Search(ctx, filter)
	if err != nil {
		err = fmt.Errorf("%w: локальный поиск: %w", ErrPersistence, err)
		s.sideEffects(model.OperationLocalSearch, filterQuery(filter), 0, start, err)
		return nil, err
	}
	if items == nil {
		items = []model.Book{}
	}

	result := &model.SearchResult{
		Items: items,
		Total: total,
		Page:  filter.Page,
		Pages: repository.Pages(total, filter.Limit),
		Limit: filter.Limit,
	}
	s.cache.Set(ctx, key, result, s.ttl.Local)

	s.sideEffects(model.OperationLocalSearch, filterQuery(filter), total, start, nil)
	return result, nil
}

// ListBooks возвращает все книги каталога (cache-aside, без побочных эффектов).
func (s *SearchService) ListBooks(ctx context.Context) ([]model.Book, error) {
	var cached []model.Book
	if s.cache.Get(ctx, allBooksKey, &cached) {
		return cached, nil
	}

	books, err := s.books.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: список книг: %w", ErrPersistence, err)
	}
	if books == nil {
		books = []model.Book{}
	}
	s.cache.Set(ctx, allBooksKey, books, s.ttl.AllBooks)
	return books, nil
}

// GetBook возвращает книгу по ID (cache-aside, без побочных эффектов).
func (s *SearchService) GetBook(ctx context.Context, id string) (*model.Book, error) {
	key := bookKey(id)

	var cached model.Book
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	b, err := s.books.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: книга %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: получение книги: %w", ErrPersistence, err)
	}
	s.cache.Set(ctx, key, b, s.ttl.Book)
	return b, nil
}

// Metrics возвращает агрегированную статистику длительности операции.
// operation принимается в любой форме (local_search, LOCAL_SEARCH, local-search),
// timeRange <= 0 означает окно по умолчанию.
func (s *SearchService) Metrics(ctx context.Context, operation string, timeRange time.Duration) (*model.MetricsSummary, error) {
	op, ok := model.ParseOperation(operation)
	if !ok {
		return nil, fmt.Errorf("%w: неизвестная операция %q, допустимы external_search, local_search",
			ErrValidation, operation)
	}
	summary, err := s.metrics.GetMetrics(ctx, op, timeRange)
	if err != nil {
		return nil, fmt.Errorf("чтение метрик: %w", err)
	}
	return summary, nil
}

// sideEffects ставит в очередь событие и метрику длительности, не ожидая их отправки.
func (s *SearchService) sideEffects(op model.Operation, query string, results int, start time.Time, err error) {
	finished := s.now()
	elapsed := finished.Sub(start)

	event := model.SearchEvent{
		EventID:      uuid.NewString(),
		Operation:    op,
		Timestamp:    finished.UTC(),
		Query:        query,
		ResultsCount: results,
		Duration:     elapsed.Milliseconds(),
		Success:      err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}

	s.events.Publish(event)
	s.durations.Record(op, elapsed)
}
