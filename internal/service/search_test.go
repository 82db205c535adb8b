package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/booksearch/internal/domain/model"
	"github.com/bigkaa/booksearch/internal/repository"
)

func strPtr(s string) *string { return &s }

func twoRecords(string) ([]model.BookRecord, error) {
	return []model.BookRecord{
		{Title: "Dune", OpenLibraryID: "/works/OL1W"},
		{Title: "Dune Messiah", OpenLibraryID: "/works/OL2W"},
	}, nil
}

// --- ExternalSearch ---

func TestExternalSearch_MissThenHit(t *testing.T) {
	f := newSearchFixture()
	f.client.searchFn = twoRecords
	ctx := context.Background()

	books, err := f.svc.ExternalSearch(ctx, "Dune")
	if err != nil {
		t.Fatalf("ExternalSearch() ошибка: %v", err)
	}
	if len(books) != 2 || f.repo.upserts != 2 {
		t.Fatalf("books = %d, upserts = %d, ожидалось 2/2", len(books), f.repo.upserts)
	}
	if books[0].OpenLibraryID != "/works/OL1W" {
		t.Errorf("порядок результатов нарушен: %v", books)
	}

	evs := f.events.all()
	if len(evs) != 1 {
		t.Fatalf("событий = %d, ожидалось 1", len(evs))
	}
	ev := evs[0]
	if ev.Operation != model.OperationExternalSearch || !ev.Success || ev.ResultsCount != 2 {
		t.Errorf("событие = %+v", ev)
	}
	if ev.EventID == "" || ev.Query != "Dune" {
		t.Errorf("EventID/Query = %q/%q", ev.EventID, ev.Query)
	}
	if f.durations.count() != 1 {
		t.Errorf("метрик = %d, ожидалась 1", f.durations.count())
	}

	// Тот же запрос с другим регистром и пробелами - попадание в кэш
	again, err := f.svc.ExternalSearch(ctx, "  dUNE ")
	if err != nil {
		t.Fatalf("ExternalSearch() ошибка: %v", err)
	}
	if len(again) != 2 {
		t.Errorf("из кэша получено %d книг", len(again))
	}
	if f.client.calls != 1 {
		t.Errorf("клиент вызван %d раз, ожидался 1", f.client.calls)
	}
	if len(f.events.all()) != 1 || f.durations.count() != 1 {
		t.Error("попадание в кэш не должно порождать побочные эффекты")
	}
}

func TestExternalSearch_EmptyQuery(t *testing.T) {
	f := newSearchFixture()

	_, err := f.svc.ExternalSearch(context.Background(), "   ")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
	}
	if f.client.calls != 0 || len(f.events.all()) != 0 {
		t.Error("невалидный запрос не должен доходить до клиента и событий")
	}
}

func TestExternalSearch_UpstreamFailure(t *testing.T) {
	f := newSearchFixture()
	f.client.searchFn = func(string) ([]model.BookRecord, error) {
		return nil, errors.New("connection refused")
	}
	ctx := context.Background()

	_, err := f.svc.ExternalSearch(ctx, "dune")
	if !errors.Is(err, ErrUpstreamFetch) {
		t.Fatalf("ошибка = %v, ожидалась ErrUpstreamFetch", err)
	}

	evs := f.events.all()
	if len(evs) != 1 || evs[0].Success || evs[0].ResultsCount != 0 {
		t.Fatalf("события = %+v, ожидалось одно неуспешное", evs)
	}
	if !strings.Contains(evs[0].Error, "connection refused") {
		t.Errorf("Error = %q", evs[0].Error)
	}
	if f.durations.count() != 1 {
		t.Error("метрика должна записываться и при ошибке")
	}

	// Ошибка не кэшируется
	_, _ = f.svc.ExternalSearch(ctx, "dune")
	if f.client.calls != 2 {
		t.Errorf("клиент вызван %d раз, ожидалось 2", f.client.calls)
	}
}

func TestExternalSearch_PersistenceFailure(t *testing.T) {
	f := newSearchFixture()
	f.client.searchFn = func(string) ([]model.BookRecord, error) {
		return []model.BookRecord{
			{Title: "A", OpenLibraryID: "/works/A"},
			{Title: "B", OpenLibraryID: "/works/B"},
			{Title: "C", OpenLibraryID: "/works/C"},
		}, nil
	}
	var completed atomic.Int32
	f.repo.upsertFn = func(rec *model.BookRecord) (*model.Book, error) {
		if rec.OpenLibraryID == "/works/B" {
			return nil, errors.New("unique violation")
		}
		time.Sleep(10 * time.Millisecond)
		completed.Add(1)
		return &model.Book{ID: rec.OpenLibraryID}, nil
	}

	_, err := f.svc.ExternalSearch(context.Background(), "abc")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("ошибка = %v, ожидалась ErrPersistence", err)
	}
	if completed.Load() != 2 {
		t.Errorf("завершено %d upsert, ожидалось 2 (ожидание всех записей)", completed.Load())
	}
	evs := f.events.all()
	if len(evs) != 1 || evs[0].Success {
		t.Errorf("события = %+v, ожидалось одно неуспешное", evs)
	}
}

func TestExternalSearch_InvalidatesReadCaches(t *testing.T) {
	f := newSearchFixture()
	f.client.searchFn = twoRecords
	f.repo.getByIDFn = func(id string) (*model.Book, error) {
		return &model.Book{ID: id, Title: "old"}, nil
	}
	ctx := context.Background()

	// Прогреваем кэш чтений
	if _, err := f.svc.ListBooks(ctx); err != nil {
		t.Fatalf("ListBooks() ошибка: %v", err)
	}
	if _, err := f.svc.GetBook(ctx, "id-/works/OL1W"); err != nil {
		t.Fatalf("GetBook() ошибка: %v", err)
	}

	if _, err := f.svc.ExternalSearch(ctx, "dune"); err != nil {
		t.Fatalf("ExternalSearch() ошибка: %v", err)
	}

	_, _ = f.svc.ListBooks(ctx)
	_, _ = f.svc.GetBook(ctx, "id-/works/OL1W")
	if f.repo.getAlls != 2 {
		t.Errorf("GetAll вызван %d раз, ожидалось 2 (books:all инвалидирован)", f.repo.getAlls)
	}
	if f.repo.getByIDs != 2 {
		t.Errorf("GetByID вызван %d раз, ожидалось 2 (book:<id> инвалидирован)", f.repo.getByIDs)
	}
}

// --- LocalSearch ---

func validFilter() repository.BookFilter {
	return repository.BookFilter{Page: 1, Limit: 20}
}

func TestLocalSearch_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*repository.BookFilter)
	}{
		{"page 0", func(f *repository.BookFilter) { f.Page = 0 }},
		{"limit 0", func(f *repository.BookFilter) { f.Limit = 0 }},
		{"limit 101", func(f *repository.BookFilter) { f.Limit = 101 }},
		{"неизвестный sortBy", func(f *repository.BookFilter) { f.SortBy = "rating" }},
		{"неизвестный order", func(f *repository.BookFilter) { f.Order = "up" }},
		{"отрицательный год", func(f *repository.BookFilter) { y := -1; f.Year = &y }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newSearchFixture()
			filter := validFilter()
			tc.modify(&filter)

			_, err := f.svc.LocalSearch(context.Background(), filter)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
			}
			if f.repo.searches != 0 {
				t.Error("невалидный фильтр не должен доходить до репозитория")
			}
		})
	}
}

func TestLocalSearch_MissThenHit(t *testing.T) {
	f := newSearchFixture()
	var gotFilter repository.BookFilter
	f.repo.searchFn = func(filter repository.BookFilter) ([]model.Book, int, error) {
		gotFilter = filter
		return []model.Book{{ID: "1"}, {ID: "2"}}, 45, nil
	}
	ctx := context.Background()

	filter := repository.BookFilter{
		Query:  strPtr("  tolkien "),
		Author: strPtr(""),
		SortBy: "TITLE",
		Order:  "ASC",
		Page:   2,
		Limit:  20,
	}
	res, err := f.svc.LocalSearch(ctx, filter)
	if err != nil {
		t.Fatalf("LocalSearch() ошибка: %v", err)
	}
	if res.Total != 45 || res.Pages != 3 || res.Page != 2 || res.Limit != 20 || len(res.Items) != 2 {
		t.Errorf("результат = %+v", res)
	}
	if gotFilter.Query == nil || *gotFilter.Query != "tolkien" || gotFilter.Author != nil {
		t.Errorf("фильтр не нормализован: %+v", gotFilter)
	}
	if gotFilter.SortBy != "title" || gotFilter.Order != "asc" {
		t.Errorf("sortBy/order = %q/%q", gotFilter.SortBy, gotFilter.Order)
	}

	evs := f.events.all()
	if len(evs) != 1 || evs[0].Operation != model.OperationLocalSearch || evs[0].ResultsCount != 45 {
		t.Fatalf("события = %+v", evs)
	}
	if evs[0].Query != "tolkien" {
		t.Errorf("Query = %q, ожидался tolkien", evs[0].Query)
	}

	// Эквивалентный фильтр после нормализации обслуживается из кэша
	filter.Query = strPtr("tolkien")
	filter.Author = nil
	filter.SortBy = "title"
	if _, err := f.svc.LocalSearch(ctx, filter); err != nil {
		t.Fatalf("LocalSearch() ошибка: %v", err)
	}
	if f.repo.searches != 1 {
		t.Errorf("Search вызван %d раз, ожидался 1", f.repo.searches)
	}
	if len(f.events.all()) != 1 {
		t.Error("попадание в кэш не должно порождать событие")
	}

	// Другая страница - другой ключ
	filter.Page = 3
	_, _ = f.svc.LocalSearch(ctx, filter)
	if f.repo.searches != 2 {
		t.Errorf("Search вызван %d раз, ожидалось 2", f.repo.searches)
	}
}

func TestLocalSearch_EmptyResult(t *testing.T) {
	f := newSearchFixture()

	res, err := f.svc.LocalSearch(context.Background(), validFilter())
	if err != nil {
		t.Fatalf("LocalSearch() ошибка: %v", err)
	}
	if res.Items == nil || len(res.Items) != 0 || res.Pages != 0 {
		t.Errorf("результат = %+v, ожидалась пустая страница", res)
	}
}

func TestLocalSearch_StoreFailure(t *testing.T) {
	f := newSearchFixture()
	f.repo.searchFn = func(repository.BookFilter) ([]model.Book, int, error) {
		return nil, 0, errors.New("db down")
	}

	_, err := f.svc.LocalSearch(context.Background(), validFilter())
	if !errors.Is(err, ErrPersistence) || errors.Is(err, ErrValidation) {
		t.Fatalf("ошибка = %v, ожидалась ErrPersistence", err)
	}
	evs := f.events.all()
	if len(evs) != 1 || evs[0].Success {
		t.Errorf("события = %+v, ожидалось одно неуспешное", evs)
	}
}

// --- Чтения ---

func TestGetBook(t *testing.T) {
	f := newSearchFixture()
	f.repo.getByIDFn = func(id string) (*model.Book, error) {
		if id == "known" {
			return &model.Book{ID: id, Title: "Dune"}, nil
		}
		return nil, repository.ErrNotFound
	}
	ctx := context.Background()

	if _, err := f.svc.GetBook(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBook(unknown) = %v, ожидалась ErrNotFound", err)
	}

	for i := 0; i < 2; i++ {
		b, err := f.svc.GetBook(ctx, "known")
		if err != nil || b.Title != "Dune" {
			t.Fatalf("GetBook(known) = %v, %v", b, err)
		}
	}
	// unknown (не кэшируется) + один промах для known
	if f.repo.getByIDs != 2 {
		t.Errorf("GetByID вызван %d раз, ожидалось 2", f.repo.getByIDs)
	}
	if len(f.events.all()) != 0 {
		t.Error("чтения не порождают события")
	}
}

func TestReads_StoreFailureIsPersistence(t *testing.T) {
	f := newSearchFixture()
	dbErr := errors.New("db down")
	f.repo.getAllFn = func() ([]model.Book, error) { return nil, dbErr }
	f.repo.getByIDFn = func(string) (*model.Book, error) { return nil, dbErr }
	ctx := context.Background()

	if _, err := f.svc.ListBooks(ctx); !errors.Is(err, ErrPersistence) || !errors.Is(err, dbErr) {
		t.Errorf("ListBooks() = %v, ожидалась ErrPersistence", err)
	}
	_, err := f.svc.GetBook(ctx, "known")
	if !errors.Is(err, ErrPersistence) || errors.Is(err, ErrNotFound) {
		t.Errorf("GetBook() = %v, ожидалась ErrPersistence", err)
	}
}

func TestListBooks_Cached(t *testing.T) {
	f := newSearchFixture()
	f.repo.getAllFn = func() ([]model.Book, error) {
		return []model.Book{{ID: "1"}}, nil
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		books, err := f.svc.ListBooks(ctx)
		if err != nil || len(books) != 1 {
			t.Fatalf("ListBooks() = %v, %v", books, err)
		}
	}
	if f.repo.getAlls != 1 {
		t.Errorf("GetAll вызван %d раз, ожидался 1", f.repo.getAlls)
	}
}

// --- Metrics ---

func TestMetrics(t *testing.T) {
	f := newSearchFixture()
	var gotOp model.Operation
	var gotRange time.Duration
	f.metrics.getFn = func(op model.Operation, tr time.Duration) (*model.MetricsSummary, error) {
		gotOp, gotRange = op, tr
		return &model.MetricsSummary{Operation: op.MetricName(), TotalRequests: 3}, nil
	}
	ctx := context.Background()

	m, err := f.svc.Metrics(ctx, "external_search", 5*time.Minute)
	if err != nil {
		t.Fatalf("Metrics() ошибка: %v", err)
	}
	if gotOp != model.OperationExternalSearch || gotRange != 5*time.Minute || m.TotalRequests != 3 {
		t.Errorf("op/range/total = %v/%v/%d", gotOp, gotRange, m.TotalRequests)
	}

	if _, err := f.svc.Metrics(ctx, "delete_everything", 0); !errors.Is(err, ErrValidation) {
		t.Errorf("Metrics(unknown) = %v, ожидалась ErrValidation", err)
	}
}

func TestCacheKeys(t *testing.T) {
	if got := externalSearchKey("  The   Hobbit "); got != "search:external:the hobbit" {
		t.Errorf("externalSearchKey = %q", got)
	}
	a := localSearchKey(repository.BookFilter{Query: strPtr("x"), Page: 1, Limit: 20})
	b := localSearchKey(repository.BookFilter{Query: strPtr("x"), Page: 2, Limit: 20})
	if a == b {
		t.Error("ключи разных страниц совпадают")
	}
	if !strings.HasPrefix(a, "search:local:") {
		t.Errorf("localSearchKey = %q", a)
	}
	if bookKey("42") != "book:42" {
		t.Errorf("bookKey = %q", bookKey("42"))
	}
}
