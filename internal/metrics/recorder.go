package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bigkaa/booksearch/internal/domain/model"
)

// DefaultTimeRange - окно агрегации по умолчанию.
const DefaultTimeRange = time.Hour

// SeriesKey возвращает ключ ряда длительностей операции: api:<operation>:duration.
func SeriesKey(op model.Operation) string {
	return "api:" + op.MetricName() + ":duration"
}

// Recorder записывает длительности операций и агрегирует их за окно.
type Recorder struct {
	store     SeriesStore
	retention time.Duration
	bucket    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewRecorder создаёт Recorder. retention - срок хранения рядов,
// bucket - ширина корзины усреднения в timeseries.
func NewRecorder(store SeriesStore, retention, bucket time.Duration, logger *slog.Logger) *Recorder {
	if bucket <= 0 {
		bucket = time.Minute
	}
	return &Recorder{
		store:     store,
		retention: retention,
		bucket:    bucket,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "metrics_recorder")),
	}
}

func (r *Recorder) seriesOptions(op model.Operation) SeriesOptions {
	return SeriesOptions{
		Retention: r.retention,
		Labels:    map[string]string{"operation": op.MetricName()},
	}
}

// EnsureSeries создаёт ряды для всех операций. Уже существующие ряды пропускаются.
func (r *Recorder) EnsureSeries(ctx context.Context) error {
	for _, op := range model.Operations {
		err := r.store.Create(ctx, SeriesKey(op), r.seriesOptions(op))
		if err != nil && !errors.Is(err, ErrSeriesExists) {
			return fmt.Errorf("создание ряда %s: %w", SeriesKey(op), err)
		}
	}
	r.logger.Info("Временные ряды метрик готовы", slog.Int("series", len(model.Operations)))
	return nil
}

// RecordDuration добавляет точку с меткой at (момент завершения запроса;
// нулевое значение - текущее время) в ряд операции. Отсутствующий ряд
// создаётся, запись повторяется один раз.
func (r *Recorder) RecordDuration(ctx context.Context, op model.Operation, at time.Time, durationMs int64) error {
	if !op.Valid() {
		return fmt.Errorf("неизвестная операция %q", op)
	}
	if at.IsZero() {
		at = r.now()
	}
	key := SeriesKey(op)
	ts := at.UnixMilli()

	err := r.store.Add(ctx, key, ts, float64(durationMs))
	if errors.Is(err, ErrNoSeries) {
		if cerr := r.store.Create(ctx, key, r.seriesOptions(op)); cerr != nil && !errors.Is(cerr, ErrSeriesExists) {
			return fmt.Errorf("создание ряда %s: %w", key, cerr)
		}
		err = r.store.Add(ctx, key, ts, float64(durationMs))
	}
	if err != nil {
		return fmt.Errorf("запись метрики %s: %w", key, err)
	}
	return nil
}

// GetMetrics агрегирует длительности операции за последние timeRange
// (DefaultTimeRange при timeRange <= 0). Пустое окно даёт нулевую статистику.
func (r *Recorder) GetMetrics(ctx context.Context, op model.Operation, timeRange time.Duration) (*model.MetricsSummary, error) {
	if timeRange <= 0 {
		timeRange = DefaultTimeRange
	}
	key := SeriesKey(op)
	to := r.now().UnixMilli()
	from := to - timeRange.Milliseconds()

	raw, err := r.store.Range(ctx, key, from, to)
	if err != nil {
		return nil, fmt.Errorf("чтение ряда %s: %w", key, err)
	}

	summary := &model.MetricsSummary{
		Operation:  op.MetricName(),
		TimeRange:  timeRange.Milliseconds(),
		Timeseries: []model.MetricPoint{},
	}
	if len(raw) == 0 {
		return summary, nil
	}

	minV, maxV, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, p := range raw {
		sum += p.Value
		minV = math.Min(minV, p.Value)
		maxV = math.Max(maxV, p.Value)
	}
	summary.TotalRequests = len(raw)
	summary.AvgDuration = sum / float64(len(raw))
	summary.MinDuration = minV
	summary.MaxDuration = maxV

	buckets, err := r.store.RangeAggregated(ctx, key, from, to, r.bucket.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("агрегация ряда %s: %w", key, err)
	}
	if buckets != nil {
		summary.Timeseries = buckets
	}
	return summary, nil
}
