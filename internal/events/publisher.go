package events

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/booksearch/internal/async"
	"github.com/bigkaa/booksearch/internal/domain/model"
)

var (
	eventsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booksearch_events_published_total",
		Help: "Количество событий поиска, отправленных брокеру.",
	})
	// Отброшенные при заполненном буфере считает booksearch_async_dropped_total{queue="events"}
	eventsSendFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booksearch_events_send_failed_total",
		Help: "Количество событий поиска, не принятых брокером.",
	})
)

// Publisher - неблокирующая публикация событий поиска.
// События буферизуются и отправляются одним фоновым обработчиком;
// ошибки отправки логируются, повторных попыток нет.
type Publisher struct {
	transport Transport
	queue     *async.Queue[model.SearchEvent]
	logger    *slog.Logger
}

// NewPublisher создаёт Publisher с буфером size.
func NewPublisher(transport Transport, size int, logger *slog.Logger) *Publisher {
	p := &Publisher{
		transport: transport,
		logger:    logger.With(slog.String("component", "event_publisher")),
	}
	p.queue = async.NewQueue("events", size, p.send, logger)
	return p
}

func (p *Publisher) send(ctx context.Context, event model.SearchEvent) {
	if err := p.transport.Send(ctx, event); err != nil {
		eventsSendFailedTotal.Inc()
		p.logger.Warn("Не удалось отправить событие поиска",
			slog.String("event_id", event.EventID),
			slog.String("operation", string(event.Operation)),
			slog.String("error", err.Error()),
		)
		return
	}
	eventsPublishedTotal.Inc()
}

// Publish ставит событие в очередь и сразу возвращается.
// Отброшенное событие учитывается и логируется очередью.
func (p *Publisher) Publish(event model.SearchEvent) {
	p.queue.Enqueue(event)
}

// Start запускает фоновую отправку.
func (p *Publisher) Start(ctx context.Context) {
	p.queue.Start(ctx)
	p.logger.Info("Публикация событий поиска запущена")
}

// Stop отправляет уже буферизованные события (не дольше ctx) и закрывает транспорт.
func (p *Publisher) Stop(ctx context.Context) {
	p.queue.Stop(ctx)
	if err := p.transport.Close(); err != nil {
		p.logger.Warn("Ошибка закрытия транспорта событий", slog.String("error", err.Error()))
	}
	p.logger.Info("Публикация событий поиска остановлена")
}
