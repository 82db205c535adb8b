// Пакет openlibrary - клиент поиска Open Library (search.json).
// Клиент ограничивает частоту запросов и не выполняет повторных попыток:
// решение о повторе остаётся за вызывающим кодом.
package openlibrary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bigkaa/booksearch/internal/domain/model"
)

// maxKeywords - ограничение количества тем (subject), сохраняемых как ключевые слова.
const maxKeywords = 20

// searchFields - поля документа, запрашиваемые у search.json.
const searchFields = "key,title,author_name,first_publish_year,isbn,publisher,subject"

// FetchError - ошибка обращения к внешнему каталогу.
// StatusCode = 0, если ответ не получен (сеть, таймаут, отмена).
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("open library: HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("open library: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config - параметры клиента.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Limit     int
	RPS       int
	UserAgent string
}

// Client - HTTP-клиент Open Library.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	limit      int
	userAgent  string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient создаёт клиент. Таймаут применяется к каждому вызову Search
// через контекст, включая ожидание лимитера.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Limit < 1 {
		cfg.Limit = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Every(time.Second / time.Duration(cfg.RPS))
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		limit:      cfg.Limit,
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With(slog.String("component", "openlibrary")),
	}
}

// searchResponse - ответ search.json (только используемые поля).
type searchResponse struct {
	NumFound int         `json:"numFound"`
	Docs     []searchDoc `json:"docs"`
}

type searchDoc struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	FirstPublishYear *int     `json:"first_publish_year"`
	ISBN             []string `json:"isbn"`
	Publisher        []string `json:"publisher"`
	Subject          []string `json:"subject"`
}

// Search выполняет запрос к search.json и возвращает записи для импорта.
// Документы без key или title пропускаются.
func (c *Client) Search(ctx context.Context, query string) ([]model.BookRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Err: fmt.Errorf("ожидание лимита запросов: %w", err)}
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("fields", searchFields)
	u := c.baseURL + "/search.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Err:        errors.New("неожиданный статус ответа"),
		}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("декодирование ответа: %w", err)}
	}

	records := make([]model.BookRecord, 0, len(sr.Docs))
	skipped := 0
	for _, doc := range sr.Docs {
		rec, ok := toRecord(doc)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	c.logger.Debug("Ответ Open Library получен",
		slog.String("query", query),
		slog.Int("num_found", sr.NumFound),
		slog.Int("docs", len(records)),
		slog.Int("skipped", skipped),
		slog.Duration("duration", time.Since(start)),
	)
	if skipped > 0 {
		c.logger.Warn("Документы без key/title пропущены",
			slog.String("query", query),
			slog.Int("skipped", skipped),
		)
	}
	return records, nil
}

func toRecord(doc searchDoc) (model.BookRecord, bool) {
	if strings.TrimSpace(doc.Key) == "" || strings.TrimSpace(doc.Title) == "" {
		return model.BookRecord{}, false
	}
	keywords := doc.Subject
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return model.BookRecord{
		Title:            doc.Title,
		Authors:          orEmpty(doc.AuthorName),
		FirstPublishYear: doc.FirstPublishYear,
		ISBNs:            orEmpty(doc.ISBN),
		Publishers:       orEmpty(doc.Publisher),
		OpenLibraryID:    doc.Key,
		SearchKeywords:   orEmpty(keywords),
	}, true
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
