package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/booksearch/internal/async"
	"github.com/bigkaa/booksearch/internal/domain/model"
)

var searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "booksearch_search_duration_seconds",
	Help:    "Длительность поисковых операций.",
	Buckets: prometheus.DefBuckets,
}, []string{"operation"})

// DurationWriter - получатель длительностей (Recorder в рабочем режиме).
type DurationWriter interface {
	RecordDuration(ctx context.Context, op model.Operation, at time.Time, durationMs int64) error
}

// sample несёт момент завершения запроса: запись в ряд происходит позже, в обработчике очереди.
type sample struct {
	op         model.Operation
	at         time.Time
	durationMs int64
}

// AsyncRecorder - неблокирующая запись метрик через ограниченную очередь.
// Ошибки записи логируются и не возвращаются вызывающему.
type AsyncRecorder struct {
	queue *async.Queue[sample]
	now   func() time.Time
}

// NewAsyncRecorder создаёт AsyncRecorder с буфером size.
func NewAsyncRecorder(w DurationWriter, size int, logger *slog.Logger) *AsyncRecorder {
	log := logger.With(slog.String("component", "metrics_async"))
	handle := func(ctx context.Context, s sample) {
		if err := w.RecordDuration(ctx, s.op, s.at, s.durationMs); err != nil {
			log.Warn("Ошибка записи метрики",
				slog.String("operation", string(s.op)),
				slog.String("error", err.Error()),
			)
		}
	}
	return &AsyncRecorder{
		queue: async.NewQueue("metrics", size, handle, logger),
		now:   time.Now,
	}
}

// Record ставит длительность в очередь и сразу возвращается.
func (a *AsyncRecorder) Record(op model.Operation, duration time.Duration) {
	searchDuration.WithLabelValues(op.MetricName()).Observe(duration.Seconds())
	a.queue.Enqueue(sample{op: op, at: a.now(), durationMs: duration.Milliseconds()})
}

// Start запускает обработчик очереди.
func (a *AsyncRecorder) Start(ctx context.Context) {
	a.queue.Start(ctx)
}

// Stop дожидается записи буфера (не дольше ctx).
func (a *AsyncRecorder) Stop(ctx context.Context) {
	a.queue.Stop(ctx)
}
