// Package service publishes domain events to RabbitMQ. Publishing is best
// effort: errors are logged and returned so callers can ignore them without
// interrupting the request flow.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/loader-licensing/internal/queue"
)

// Publisher dials the broker per message. An empty URL disables publishing.
type Publisher struct {
	url string
	log *zap.Logger
}

func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{url: url, log: log.Named("publisher")}
}

// Enabled reports whether a broker URL is configured.
func (p *Publisher) Enabled() bool { return p != nil && p.url != "" }

// HardwarePending puts the event on the durable hardware.pending queue.
func (p *Publisher) HardwarePending(ctx context.Context, ev queue.HardwarePendingEvent) error {
	return p.publish(ctx, ev, func(ch *amqp.Channel) (string, string, error) {
		_, err := ch.QueueDeclare(queue.HardwarePendingQueue, true, false, false, false, nil)
		return "", queue.HardwarePendingQueue, err
	})
}

// LoaderChanged broadcasts the event on the loader.changed fanout exchange.
func (p *Publisher) LoaderChanged(ctx context.Context, ev queue.LoaderChangedEvent) error {
	return p.publish(ctx, ev, func(ch *amqp.Channel) (string, string, error) {
		err := ch.ExchangeDeclare(queue.LoaderChangedExchange, amqp.ExchangeFanout, true, false, false, false, nil)
		return queue.LoaderChangedExchange, "", err
	})
}

// declareFunc declares the target and returns exchange and routing key.
type declareFunc func(ch *amqp.Channel) (exchange, key string, err error)

func (p *Publisher) publish(ctx context.Context, event any, declare declareFunc) error {
	if !p.Enabled() {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	exchange, key, err := declare(ch)
	if err != nil {
		p.log.Warn("declare failed", zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, exchange, key, false, false, pub); err != nil {
		p.log.Warn("publish failed", zap.String("exchange", exchange), zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
