package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
)

var eventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booksearch_events_consumed_total",
	Help: "Обработанные сообщения по результату (ack, reject, requeue).",
}, []string{"result"})

// Handler обрабатывает тело сообщения.
type Handler func(ctx context.Context, body []byte) error

// permanentError - ошибка, при которой повторная доставка бессмысленна.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку обработчика как окончательную:
// сообщение отклоняется без возврата в очередь.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent проверяет, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ConsumerConfig - топология и параметры потребителя.
type ConsumerConfig struct {
	URL        string
	Exchange   string
	Queue      string
	BindingKey string
	Prefetch   int
	// ReconnectDelay - пауза перед повторным подключением (по умолчанию 5s)
	ReconnectDelay time.Duration
}

// Consumer читает durable очередь с ручным подтверждением.
type Consumer struct {
	cfg       ConsumerConfig
	handler   Handler
	logger    *slog.Logger
	connected atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer создаёт потребителя. Подключение выполняется в Start.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(slog.String("component", "event_consumer")),
	}
}

// Start запускает цикл потребления с переподключением.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for {
			err := c.consume(ctx)
			c.connected.Store(false)
			if ctx.Err() != nil {
				c.logger.Info("Потребление событий остановлено")
				return
			}
			c.logger.Warn("Потребление событий прервано, переподключение",
				slog.String("error", errString(err)),
				slog.String("delay", c.cfg.ReconnectDelay.String()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}
	}()
}

// Stop прекращает потребление и дожидается завершения текущего сообщения.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

// Connected сообщает, активна ли подписка на очередь.
func (c *Consumer) Connected() bool {
	return c.connected.Load()
}

// CheckReady реализует проверку готовности для /health/ready.
func (c *Consumer) CheckReady() (string, string) {
	if c.Connected() {
		return "ok", "consumer subscribed"
	}
	return "fail", "consumer not subscribed"
}

// consume выполняет одну сессию: подключение, объявление топологии, чтение
// до разрыва соединения или отмены ctx.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("подключение к брокеру: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("открытие канала: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, c.cfg.Exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("объявление очереди %s: %w", c.cfg.Queue, err)
	}
	if err := ch.QueueBind(c.cfg.Queue, c.cfg.BindingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("привязка очереди %s: %w", c.cfg.Queue, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("установка prefetch: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("подписка на очередь %s: %w", c.cfg.Queue, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.connected.Store(true)
	c.logger.Info("Подписка на очередь событий активна",
		slog.String("queue", c.cfg.Queue),
		slog.String("binding_key", c.cfg.BindingKey),
		slog.Int("prefetch", c.cfg.Prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("соединение закрыто")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("канал доставки закрыт")
			}
			c.process(ctx, d)
		}
	}
}

// process подтверждает или отклоняет сообщение по результату обработчика:
// успех - Ack; окончательная ошибка - Nack без возврата; прочие ошибки -
// возврат в очередь при первой доставке, отклонение при повторной.
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	err := c.handler(ctx, d.Body)
	switch {
	case err == nil:
		eventsConsumedTotal.WithLabelValues("ack").Inc()
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("Ошибка подтверждения сообщения", slog.String("error", ackErr.Error()))
		}
	case IsPermanent(err):
		eventsConsumedTotal.WithLabelValues("reject").Inc()
		c.logger.Warn("Сообщение отклонено",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
		c.nack(d, false)
	default:
		requeue := !d.Redelivered
		result := "reject"
		if requeue {
			result = "requeue"
		}
		eventsConsumedTotal.WithLabelValues(result).Inc()
		c.logger.Error("Ошибка обработки сообщения",
			slog.String("message_id", d.MessageId),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		c.nack(d, requeue)
	}
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.logger.Error("Ошибка отклонения сообщения", slog.String("error", err.Error()))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
