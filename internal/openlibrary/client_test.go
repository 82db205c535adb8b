package openlibrary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(Config{
		BaseURL:   baseURL,
		Timeout:   timeout,
		Limit:     5,
		UserAgent: "booksearch-test/1.0",
	}, testLogger())
}

func TestSearch_MapsDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			t.Errorf("path = %q, ожидался /search.json", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "lord of the rings" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, ожидался 5", got)
		}
		if got := r.Header.Get("User-Agent"); got != "booksearch-test/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"numFound": 3,
			"docs": [
				{"key": "/works/OL27448W", "title": "The Lord of the Rings",
				 "author_name": ["J.R.R. Tolkien"], "first_publish_year": 1954,
				 "isbn": ["9780261103573"], "publisher": ["Allen & Unwin"], "subject": ["Fantasy"]},
				{"key": "/works/OL1W", "title": "No Metadata"},
				{"key": "", "title": "Missing key"}
			]
		}`)
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL, time.Second).Search(context.Background(), "lord of the rings")
	if err != nil {
		t.Fatalf("Search() ошибка: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("получено %d записей, ожидалось 2 (документ без key пропускается)", len(records))
	}

	lotr := records[0]
	if lotr.OpenLibraryID != "/works/OL27448W" || lotr.Title != "The Lord of the Rings" {
		t.Errorf("запись = %+v", lotr)
	}
	if lotr.FirstPublishYear == nil || *lotr.FirstPublishYear != 1954 {
		t.Errorf("FirstPublishYear = %v, ожидался 1954", lotr.FirstPublishYear)
	}
	if len(lotr.Authors) != 1 || len(lotr.Publishers) != 1 || len(lotr.SearchKeywords) != 1 {
		t.Errorf("authors/publishers/keywords = %v/%v/%v", lotr.Authors, lotr.Publishers, lotr.SearchKeywords)
	}

	bare := records[1]
	if bare.FirstPublishYear != nil {
		t.Error("отсутствующий год должен быть nil")
	}
	if bare.Authors == nil || bare.ISBNs == nil || bare.Publishers == nil || bare.SearchKeywords == nil {
		t.Error("отсутствующие списки должны быть пустыми, а не nil")
	}
}

func TestSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).Search(context.Background(), "x")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("ошибка %v, ожидался *FetchError", err)
	}
	if fe.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, ожидался 503", fe.StatusCode)
	}
}

func TestSearch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"docs": [`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).Search(context.Background(), "x")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("ошибка %v, ожидался *FetchError", err)
	}
}

func TestSearch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	begin := time.Now()
	_, err := newTestClient(srv.URL, 50*time.Millisecond).Search(context.Background(), "x")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("ошибка %v, ожидался *FetchError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ошибка %v, ожидался DeadlineExceeded", err)
	}
	if time.Since(begin) > 2*time.Second {
		t.Error("таймаут вызова не соблюдён")
	}
}

func TestSearch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"numFound":0,"docs":[]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second, RPS: 10}, testLogger())
	ctx := context.Background()

	begin := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Search(ctx, "x"); err != nil {
			t.Fatalf("Search() ошибка: %v", err)
		}
	}
	// 3 запроса при 10 rps и burst 1 - не быстрее ~200ms
	if elapsed := time.Since(begin); elapsed < 150*time.Millisecond {
		t.Errorf("3 запроса выполнены за %v, лимит не применяется", elapsed)
	}
}
