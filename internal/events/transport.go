// Пакет events - доставка событий о выполненных поисках через RabbitMQ:
// неблокирующая публикация в catalog-service и потребление в searchlog-service.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bigkaa/booksearch/internal/domain/model"
)

// Transport отправляет одно событие брокеру.
type Transport interface {
	Send(ctx context.Context, event model.SearchEvent) error
	Close() error
}

// declareExchange объявляет durable topic exchange событий.
func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("объявление exchange %s: %w", exchange, err)
	}
	return nil
}

// AMQPTransport публикует события в topic exchange.
// Соединение устанавливается при первой отправке и восстанавливается после разрыва.
type AMQPTransport struct {
	url         string
	exchange    string
	routingKey  string
	sendTimeout time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPTransport создаёт транспорт. Подключение не выполняется.
func NewAMQPTransport(url, exchange, routingKey string, logger *slog.Logger) *AMQPTransport {
	return &AMQPTransport{
		url:         url,
		exchange:    exchange,
		routingKey:  routingKey,
		sendTimeout: 5 * time.Second,
		logger:      logger.With(slog.String("component", "amqp_publisher")),
	}
}

// channel возвращает открытый канал, переподключаясь при необходимости.
// Вызывается под t.mu.
func (t *AMQPTransport) channel() (*amqp.Channel, error) {
	if t.conn != nil && !t.conn.IsClosed() && t.ch != nil && !t.ch.IsClosed() {
		return t.ch, nil
	}
	t.closeLocked()

	conn, err := amqp.Dial(t.url)
	if err != nil {
		return nil, fmt.Errorf("подключение к брокеру: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if err := declareExchange(ch, t.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	t.conn, t.ch = conn, ch
	t.logger.Info("Подключение к брокеру событий установлено",
		slog.String("exchange", t.exchange),
	)
	return ch, nil
}

// Send публикует событие с persistent delivery mode. MessageId = EventID.
func (t *AMQPTransport) Send(ctx context.Context, event model.SearchEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ch, err := t.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.sendTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx, t.exchange, t.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.Timestamp,
		Type:         t.routingKey,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("публикация события %s: %w", event.EventID, err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *AMQPTransport) closeLocked() {
	if t.ch != nil {
		_ = t.ch.Close()
		t.ch = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// NoopTransport используется, когда брокер не настроен.
type NoopTransport struct{}

func (NoopTransport) Send(context.Context, model.SearchEvent) error { return nil }
func (NoopTransport) Close() error { return nil }
