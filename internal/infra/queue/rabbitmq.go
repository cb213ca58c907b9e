package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"usage-telemetry/internal/domain"
	"usage-telemetry/internal/infra/metrics"
)

// RabbitEvents публикует пачки событий в долговечную очередь RabbitMQ.
// Каждая пачка — одно сообщение с JSON-массивом записей.
type RabbitEvents struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch *amqp.Channel
}

var _ domain.EventStore = (*RabbitEvents)(nil)

// NewRabbitEvents подключается к брокеру и объявляет очередь.
func NewRabbitEvents(amqpURL, queue string) (*RabbitEvents, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	r := &RabbitEvents{conn: conn, queue: queue}
	if _, err := r.channel(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *RabbitEvents) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	r.ch = ch
	return ch, nil
}

// InsertBatch реализует domain.EventStore.
func (r *RabbitEvents) InsertBatch(ctx context.Context, records []domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	ch, err := r.channel()
	if err != nil {
		return err
	}
	start := time.Now()
	err = ch.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    start.UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", r.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

// Close закрывает соединение.
func (r *RabbitEvents) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		_ = r.ch.Close()
	}
	return r.conn.Close()
}
