// Пакет metrics - запись и агрегация длительностей поисковых операций
// во временных рядах (RedisTimeSeries или in-memory).
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/bigkaa/booksearch/internal/domain/model"
)

var (
	// ErrSeriesExists - ряд с таким ключом уже создан.
	ErrSeriesExists = errors.New("временной ряд уже существует")
	// ErrNoSeries - ряд с таким ключом не создан.
	ErrNoSeries = errors.New("временной ряд не найден")
)

// SeriesOptions - параметры создания ряда.
type SeriesOptions struct {
	Retention time.Duration
	Labels    map[string]string
}

// SeriesStore - хранилище временных рядов. Временные метки в миллисекундах Unix,
// границы диапазонов включительны.
type SeriesStore interface {
	Create(ctx context.Context, key string, opts SeriesOptions) error
	Add(ctx context.Context, key string, ts int64, value float64) error
	Range(ctx context.Context, key string, from, to int64) ([]model.MetricPoint, error)
	// RangeAggregated возвращает средние значения по корзинам шириной bucket мс.
	RangeAggregated(ctx context.Context, key string, from, to, bucket int64) ([]model.MetricPoint, error)
}
