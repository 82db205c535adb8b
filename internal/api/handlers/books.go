// books.go - endpoints catalog-service: локальный поиск, импорт из Open Library,
// чтение каталога и статистика длительности поиска.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/booksearch/internal/domain/model"
	"github.com/bigkaa/booksearch/internal/repository"
	"github.com/bigkaa/booksearch/internal/service"
)

// BookSearcher - операции каталога, используемые HTTP-слоем.
type BookSearcher interface {
	ExternalSearch(ctx context.Context, query string) ([]model.Book, error)
	LocalSearch(ctx context.Context, filter repository.BookFilter) (*model.SearchResult, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	GetBook(ctx context.Context, id string) (*model.Book, error)
	Metrics(ctx context.Context, operation string, timeRange time.Duration) (*model.MetricsSummary, error)
}

// BooksHandler - обработчик endpoints каталога.
type BooksHandler struct {
	books  BookSearcher
	logger *slog.Logger
}

// NewBooksHandler создаёт обработчик каталога.
func NewBooksHandler(books BookSearcher, logger *slog.Logger) *BooksHandler {
	return &BooksHandler{
		books:  books,
		logger: logger.With(slog.String("component", "books_handler")),
	}
}

// Routes регистрирует маршруты каталога. Статические пути /books/search и
// /books/external-search в chi имеют приоритет над /books/{id}.
func (h *BooksHandler) Routes(r chi.Router) {
	r.Get("/books", h.ListBooks)
	r.Get("/books/search", h.LocalSearch)
	r.Get("/books/external-search", h.ExternalSearch)
	r.Post("/books/external-search", h.ExternalSearch)
	r.Get("/books/{id}", h.GetBook)
	r.Get("/metrics/search", h.SearchMetrics)
}

// ExternalSearch - GET|POST /books/external-search?query= (или q=).
func (h *BooksHandler) ExternalSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		query = q.Get("q")
	}

	books, err := h.books.ExternalSearch(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// LocalSearch - GET /books/search с фильтрами, сортировкой и пагинацией.
func (h *BooksHandler) LocalSearch(w http.ResponseWriter, r *http.Request) {
	filter, err := parseBookFilter(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.books.LocalSearch(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListBooks - GET /books.
func (h *BooksHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.ListBooks(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// GetBook - GET /books/{id}.
func (h *BooksHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.books.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// SearchMetrics - GET /metrics/search?operation=&timeRange= (миллисекунды).
func (h *BooksHandler) SearchMetrics(w http.ResponseWriter, r *http.Request) {
	var timeRange time.Duration
	if raw := r.URL.Query().Get("timeRange"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			writeServiceError(w, r, h.logger,
				fmt.Errorf("%w: timeRange должен быть положительным числом миллисекунд", service.ErrValidation))
			return
		}
		timeRange = time.Duration(ms) * time.Millisecond
	}

	summary, err := h.books.Metrics(r.Context(), r.URL.Query().Get("operation"), timeRange)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// parseBookFilter собирает BookFilter из query-параметров.
// Trim и проверка значений выполняются в сервисе.
func parseBookFilter(r *http.Request) (repository.BookFilter, error) {
	q := r.URL.Query()
	f := repository.BookFilter{
		SortBy: q.Get("sortBy"),
		Order:  q.Get("order"),
	}
	if v := q.Get("q"); v != "" {
		f.Query = &v
	}
	if v := q.Get("author"); v != "" {
		f.Author = &v
	}
	if v := q.Get("isbn"); v != "" {
		f.ISBN = &v
	}
	if q.Get("year") != "" {
		year, err := queryInt(r, "year", 0)
		if err != nil {
			return f, err
		}
		f.Year = &year
	}

	var err error
	if f.Page, f.Limit, err = pageParams(r); err != nil {
		return f, err
	}
	return f, nil
}
