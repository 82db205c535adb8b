// metrics.go - Prometheus HTTP метрики сервисов booksearch:
// booksearch_http_requests_total, booksearch_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booksearch_http_requests_total",
			Help: "Общее количество HTTP-запросов",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booksearch_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware считает запросы и их длительность по нормализованному пути.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath сворачивает идентификаторы книг в {id}, неизвестные пути - в "other".
// /books/3f0c... -> /books/{id}
func normalizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	switch path {
	case "/health/live", "/health/ready", "/metrics", "/metrics/search",
		"/books", "/books/search", "/books/external-search", "/logs":
		return path
	}

	if id, ok := strings.CutPrefix(path, "/books/"); ok && id != "" && !strings.Contains(id, "/") {
		return "/books/{id}"
	}
	return "other"
}
