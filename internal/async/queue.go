// Пакет async - ограниченная очередь фоновой обработки для побочных каналов
// (события, метрики). Постановка в очередь никогда не блокирует вызывающего:
// при заполненном буфере элемент отбрасывается.
package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booksearch_async_dropped_total",
	Help: "Количество элементов, отброшенных из-за заполненной очереди.",
}, []string{"queue"})

// Handler обрабатывает один элемент очереди.
type Handler[T any] func(ctx context.Context, item T)

// Queue - очередь с одним фоновым обработчиком.
type Queue[T any] struct {
	name    string
	items   chan T
	handle  Handler[T]
	logger  *slog.Logger
	stopped atomic.Bool

	cancel   context.CancelFunc
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewQueue создаёт очередь ёмкостью size (минимум 1).
func NewQueue[T any](name string, size int, handle Handler[T], logger *slog.Logger) *Queue[T] {
	if size < 1 {
		size = 1
	}
	return &Queue[T]{
		name:   name,
		items:  make(chan T, size),
		handle: handle,
		logger: logger.With(slog.String("component", "async_queue"), slog.String("queue", name)),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start запускает обработчик. Элементы обрабатываются с контекстом ctx.
func (q *Queue[T]) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)

	go func() {
		defer close(q.done)
		for {
			select {
			case item := <-q.items:
				q.handle(ctx, item)
			case <-q.quit:
				q.drain(ctx)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// drain обрабатывает то, что уже находится в буфере.
func (q *Queue[T]) drain(ctx context.Context) {
	for {
		select {
		case item := <-q.items:
			q.handle(ctx, item)
		default:
			return
		}
	}
}

// Enqueue ставит элемент в очередь без ожидания.
// Возвращает false, если элемент отброшен.
func (q *Queue[T]) Enqueue(item T) bool {
	if q.stopped.Load() {
		droppedTotal.WithLabelValues(q.name).Inc()
		return false
	}
	select {
	case q.items <- item:
		return true
	default:
		droppedTotal.WithLabelValues(q.name).Inc()
		q.logger.Warn("Очередь заполнена, элемент отброшен",
			slog.Int("capacity", cap(q.items)),
		)
		return false
	}
}

// Len возвращает количество элементов в буфере.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Stop прекращает приём элементов и дожидается обработки буфера.
// Если ctx истекает раньше, обработка прерывается.
func (q *Queue[T]) Stop(ctx context.Context) {
	q.stopOnce.Do(func() {
		q.stopped.Store(true)
		close(q.quit)
	})
	if q.cancel == nil {
		return
	}

	select {
	case <-q.done:
	case <-ctx.Done():
		q.logger.Warn("Очередь остановлена до полной обработки буфера",
			slog.Int("remaining", len(q.items)),
		)
		q.cancel()
		<-q.done
	}
	q.cancel()
}
