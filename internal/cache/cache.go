package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booksearch_cache_hits_total",
		Help: "Общее количество попаданий в кэш запросов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booksearch_cache_misses_total",
		Help: "Общее количество промахов кэша запросов.",
	})
	cacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booksearch_cache_errors_total",
		Help: "Ошибки бэкенда кэша по операциям (get, set, delete, decode).",
	}, []string{"op"})
)

// QueryCache - cache-aside обёртка над Store.
// Любая ошибка бэкенда при чтении трактуется как промах, ошибки записи
// только логируются: недоступность кэша не влияет на результат запроса.
type QueryCache struct {
	store  Store
	logger *slog.Logger
}

// New создаёт QueryCache поверх указанного бэкенда.
func New(store Store, logger *slog.Logger) *QueryCache {
	return &QueryCache{
		store:  store,
		logger: logger.With(slog.String("component", "query_cache")),
	}
}

// Get читает значение key и декодирует его в dst.
// Возвращает true только при успешном попадании.
func (c *QueryCache) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		cacheMissesTotal.Inc()
		if !errors.Is(err, ErrMiss) {
			cacheErrorsTotal.WithLabelValues("get").Inc()
			c.logger.Warn("Ошибка чтения кэша, используется источник",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		cacheMissesTotal.Inc()
		cacheErrorsTotal.WithLabelValues("decode").Inc()
		c.logger.Warn("Повреждённая запись кэша",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}

	cacheHitsTotal.Inc()
	return true
}

// Set сериализует value и сохраняет с TTL. Ошибки логируются.
func (c *QueryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("encode").Inc()
		c.logger.Error("Ошибка сериализации значения кэша",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		cacheErrorsTotal.WithLabelValues("set").Inc()
		c.logger.Warn("Ошибка записи в кэш",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Invalidate удаляет ключи. Ошибки логируются.
func (c *QueryCache) Invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			cacheErrorsTotal.WithLabelValues("delete").Inc()
			c.logger.Warn("Ошибка инвалидации кэша",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}
