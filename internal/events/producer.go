package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher is what the rest of the service sees: fire a JSON message at a
// routing key. Tests substitute a recording fake.
type Publisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

// Producer publishes persistent JSON messages to the service's topic
// exchange and waits for broker confirms.
type Producer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	acks     <-chan amqp.Confirmation
	exchange string
	log      *zap.Logger

	mu sync.Mutex // serialises Publish while using confirms
}

// NewProducer dials the broker, opens a confirmed channel and declares the
// topic exchange.
func NewProducer(url, exchange string, log *zap.Logger) (*Producer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Producer{conn: conn, ch: ch, acks: acks, exchange: exchange, log: log}, nil
}

// Publish marshals v, sends it under key and blocks for the broker's
// ack/nack or the context deadline.
func (p *Producer) Publish(ctx context.Context, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	select {
	case conf := <-p.acks:
		if !conf.Ack {
			return fmt.Errorf("publish %s: broker nacked delivery %d", key, conf.DeliveryTag)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Debug("event published", zap.String("key", key))
	return nil
}

func (p *Producer) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
