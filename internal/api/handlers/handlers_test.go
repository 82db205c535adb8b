package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/booksearch/internal/domain/model"
	"github.com/bigkaa/booksearch/internal/repository"
	"github.com/bigkaa/booksearch/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockBookSearcher struct {
	externalFn func(query string) ([]model.Book, error)
	localFn    func(f repository.BookFilter) (*model.SearchResult, error)
	listFn     func() ([]model.Book, error)
	getFn      func(id string) (*model.Book, error)
	metricsFn  func(op string, tr time.Duration) (*model.MetricsSummary, error)
}

func (m *mockBookSearcher) ExternalSearch(_ context.Context, query string) ([]model.Book, error) {
	return m.externalFn(query)
}

func (m *mockBookSearcher) LocalSearch(_ context.Context, f repository.BookFilter) (*model.SearchResult, error) {
	return m.localFn(f)
}

func (m *mockBookSearcher) ListBooks(_ context.Context) ([]model.Book, error) {
	return m.listFn()
}

func (m *mockBookSearcher) GetBook(_ context.Context, id string) (*model.Book, error) {
	return m.getFn(id)
}

func (m *mockBookSearcher) Metrics(_ context.Context, op string, tr time.Duration) (*model.MetricsSummary, error) {
	return m.metricsFn(op, tr)
}

type mockLogReader struct {
	getLogsFn func(q service.LogQuery) (*model.LogPage, error)
}

func (m *mockLogReader) GetLogs(_ context.Context, q service.LogQuery) (*model.LogPage, error) {
	return m.getLogsFn(q)
}

type staticChecker struct {
	status, message string
}

func (c staticChecker) CheckReady() (string, string) {
	return c.status, c.message
}

// --- Helpers ---

func booksRouter(m *mockBookSearcher) http.Handler {
	r := chi.NewRouter()
	NewBooksHandler(m, testLogger()).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("невалидное тело ошибки %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

// --- Books ---

func TestExternalSearch_QueryParams(t *testing.T) {
	var got []string
	m := &mockBookSearcher{externalFn: func(q string) ([]model.Book, error) {
		got = append(got, q)
		return []model.Book{{ID: "1", Title: "Dune"}}, nil
	}}
	h := booksRouter(m)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/books/external-search?query=dune"},
		{http.MethodPost, "/books/external-search?q=dune"},
		{http.MethodGet, "/books/external-search?query=dune&q=other"},
	} {
		rec := do(t, h, tc.method, tc.target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s %s: статус %d", tc.method, tc.target, rec.Code)
		}
		var books []model.Book
		if err := json.Unmarshal(rec.Body.Bytes(), &books); err != nil || len(books) != 1 {
			t.Errorf("тело = %s", rec.Body.String())
		}
	}
	for i, q := range got {
		if q != "dune" {
			t.Errorf("вызов %d: query = %q, ожидалось dune", i, q)
		}
	}
}

func TestExternalSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"валидация", fmt.Errorf("%w: пустой запрос", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"внешний каталог", fmt.Errorf("%w: timeout", service.ErrUpstreamFetch), http.StatusBadRequest, "UPSTREAM_FETCH_FAILED"},
		{"сохранение", fmt.Errorf("%w: conn refused", service.ErrPersistence), http.StatusBadRequest, "PERSISTENCE_FAILED"},
		{"прочее", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := booksRouter(&mockBookSearcher{externalFn: func(string) ([]model.Book, error) {
				return nil, tt.err
			}})
			rec := do(t, h, http.MethodGet, "/books/external-search?query=x")
			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			if code := errorCode(t, rec); code != tt.wantErr {
				t.Errorf("code = %q, ожидался %q", code, tt.wantErr)
			}
			if strings.Contains(rec.Body.String(), "conn refused") || strings.Contains(rec.Body.String(), "boom") {
				t.Errorf("детали ошибки раскрыты клиенту: %s", rec.Body.String())
			}
		})
	}
}

func TestLocalSearch_ParsesFilter(t *testing.T) {
	var got repository.BookFilter
	h := booksRouter(&mockBookSearcher{localFn: func(f repository.BookFilter) (*model.SearchResult, error) {
		got = f
		return &model.SearchResult{Items: []model.Book{}, Total: 0, Page: f.Page, Pages: 0, Limit: f.Limit}, nil
	}})

	rec := do(t, h, http.MethodGet, "/books/search?q=ring&author=tolkien&year=1954&isbn=123&sortBy=year&order=desc&page=2&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d (%s)", rec.Code, rec.Body.String())
	}
	if got.Query == nil || *got.Query != "ring" || got.Author == nil || *got.Author != "tolkien" {
		t.Errorf("Query/Author = %v/%v", got.Query, got.Author)
	}
	if got.Year == nil || *got.Year != 1954 || got.ISBN == nil || *got.ISBN != "123" {
		t.Errorf("Year/ISBN = %v/%v", got.Year, got.ISBN)
	}
	if got.SortBy != "year" || got.Order != "desc" || got.Page != 2 || got.Limit != 5 {
		t.Errorf("фильтр = %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/books/search")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if got.Page != service.DefaultPage || got.Limit != service.DefaultLimit || got.Query != nil || got.Year != nil {
		t.Errorf("значения по умолчанию = %+v", got)
	}
}

func TestLocalSearch_BadNumbers(t *testing.T) {
	called := false
	h := booksRouter(&mockBookSearcher{localFn: func(repository.BookFilter) (*model.SearchResult, error) {
		called = true
		return &model.SearchResult{}, nil
	}})

	for _, target := range []string{"/books/search?year=abc", "/books/search?page=x", "/books/search?limit=1.5"} {
		rec := do(t, h, http.MethodGet, target)
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
			t.Errorf("%s: статус = %d, тело = %s", target, rec.Code, rec.Body.String())
		}
	}
	if called {
		t.Error("сервис не должен вызываться при невалидных параметрах")
	}
}

func TestGetBook(t *testing.T) {
	h := booksRouter(&mockBookSearcher{getFn: func(id string) (*model.Book, error) {
		if id == "known" {
			return &model.Book{ID: id, Title: "Dune"}, nil
		}
		return nil, fmt.Errorf("%w: книга %s", service.ErrNotFound, id)
	}})

	if rec := do(t, h, http.MethodGet, "/books/known"); rec.Code != http.StatusOK {
		t.Errorf("статус = %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/books/unknown")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NOT_FOUND" {
		t.Errorf("статус = %d, тело = %s", rec.Code, rec.Body.String())
	}
}

func TestListBooks(t *testing.T) {
	h := booksRouter(&mockBookSearcher{listFn: func() ([]model.Book, error) {
		return []model.Book{}, nil
	}})
	rec := do(t, h, http.MethodGet, "/books")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("статус = %d, тело = %q", rec.Code, rec.Body.String())
	}
}

func TestReads_StoreFailureMapsToPersistence(t *testing.T) {
	storeErr := fmt.Errorf("%w: чтение: conn refused", service.ErrPersistence)
	h := booksRouter(&mockBookSearcher{
		localFn: func(repository.BookFilter) (*model.SearchResult, error) { return nil, storeErr },
		listFn:  func() ([]model.Book, error) { return nil, storeErr },
		getFn:   func(string) (*model.Book, error) { return nil, storeErr },
	})
	logs := chi.NewRouter()
	NewLogsHandler(&mockLogReader{getLogsFn: func(service.LogQuery) (*model.LogPage, error) {
		return nil, storeErr
	}}, testLogger()).Routes(logs)

	tests := []struct {
		name   string
		h      http.Handler
		target string
	}{
		{"локальный поиск", h, "/books/search?q=dune"},
		{"список книг", h, "/books"},
		{"книга по id", h, "/books/known"},
		{"журнал поиска", logs, "/logs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, tt.h, http.MethodGet, tt.target)
			if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "PERSISTENCE_FAILED" {
				t.Errorf("статус = %d, тело = %s", rec.Code, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "conn refused") {
				t.Errorf("детали ошибки раскрыты клиенту: %s", rec.Body.String())
			}
		})
	}
}

func TestSearchMetrics(t *testing.T) {
	var gotOp string
	var gotRange time.Duration
	h := booksRouter(&mockBookSearcher{metricsFn: func(op string, tr time.Duration) (*model.MetricsSummary, error) {
		if op == "bogus" {
			return nil, fmt.Errorf("%w: неизвестная операция", service.ErrValidation)
		}
		gotOp, gotRange = op, tr
		return &model.MetricsSummary{Operation: op, TotalRequests: 3, Timeseries: []model.MetricPoint{}}, nil
	}})

	rec := do(t, h, http.MethodGet, "/metrics/search?operation=local_search&timeRange=60000")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if gotOp != "local_search" || gotRange != time.Minute {
		t.Errorf("operation = %q, timeRange = %v", gotOp, gotRange)
	}
	if !strings.Contains(rec.Body.String(), `"timeseriesData":[]`) {
		t.Errorf("тело = %s", rec.Body.String())
	}

	do(t, h, http.MethodGet, "/metrics/search?operation=external_search")
	if gotRange != 0 {
		t.Errorf("timeRange без параметра = %v, ожидался 0 (окно по умолчанию)", gotRange)
	}

	for _, target := range []string{"/metrics/search?operation=bogus", "/metrics/search?operation=local_search&timeRange=-5"} {
		if rec := do(t, h, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: статус = %d, ожидался 400", target, rec.Code)
		}
	}
}

// --- Logs ---

func TestGetLogs(t *testing.T) {
	var got service.LogQuery
	r := chi.NewRouter()
	NewLogsHandler(&mockLogReader{getLogsFn: func(q service.LogQuery) (*model.LogPage, error) {
		if q.Operation == "bogus" {
			return nil, fmt.Errorf("%w: неизвестная операция", service.ErrValidation)
		}
		got = q
		return &model.LogPage{Items: []model.SearchLog{}, Page: q.Page, Limit: q.Limit}, nil
	}}, testLogger()).Routes(r)

	rec := do(t, r, http.MethodGet, "/logs?startDate=2026-03-01&endDate=2026-03-02&operation=local_search&page=3&limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	want := service.LogQuery{StartDate: "2026-03-01", EndDate: "2026-03-02", Operation: "local_search", Page: 3, Limit: 10}
	if got != want {
		t.Errorf("LogQuery = %+v, ожидался %+v", got, want)
	}

	if rec := do(t, r, http.MethodGet, "/logs?operation=bogus"); rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидался 400", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/logs?page=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидался 400", rec.Code)
	}
}

func TestLogsRoutes_Middleware(t *testing.T) {
	r := chi.NewRouter()
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	NewLogsHandler(&mockLogReader{}, testLogger()).Routes(r, deny)
	NewHealthHandler("searchlog-service").Routes(r)

	if rec := do(t, r, http.MethodGet, "/logs"); rec.Code != http.StatusUnauthorized {
		t.Errorf("/logs статус = %d, ожидался 401", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/health/live"); rec.Code != http.StatusOK {
		t.Errorf("/health/live статус = %d, ожидался 200", rec.Code)
	}
}

// --- Health ---

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		checks   []Check
		wantCode int
		want     string
	}{
		{"все ok", []Check{{"postgresql", staticChecker{"ok", ""}}, {"redis", staticChecker{"ok", ""}}}, http.StatusOK, "ok"},
		{"degraded", []Check{{"postgresql", staticChecker{"ok", ""}}, {"amqp", staticChecker{"degraded", "reconnect"}}}, http.StatusOK, "degraded"},
		{"fail", []Check{{"postgresql", staticChecker{"fail", "down"}}, {"amqp", staticChecker{"degraded", ""}}}, http.StatusServiceUnavailable, "fail"},
		{"nil checker", []Check{{"postgresql", nil}}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("catalog-service", tt.checks...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			var body struct {
				Status  string                       `json:"status"`
				Service string                       `json:"service"`
				Checks  map[string]healthCheckResult `json:"checks"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("невалидный JSON: %v", err)
			}
			if body.Status != tt.want || body.Service != "catalog-service" || len(body.Checks) != len(tt.checks) {
				t.Errorf("тело = %+v", body)
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler("catalog-service").HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	var body healthLiveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
	if body.Status != "ok" || body.Version == "" {
		t.Errorf("тело = %+v", body)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q не RFC3339", body.Timestamp)
	}
}
